package health

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestJSON = `{"patches":[{"changes":[{"kind":"delete","relativePath":"old.txt"}],"meta":{"releaseDate":"2024-01-01T00:00:00Z","releaseNotes":""},"version":[1,0,0,0]}]}`

func TestPublishChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/srv/update.json", []byte(manifestJSON), 0o644))

		health := NewPublishChecker(fsys, "/srv", "/srv/update.json", 0).CheckHealth(ctx)
		assert.Equal(t, StatusHealthy, health.Status)
		assert.Equal(t, "1.0.0.0", health.Components["manifest"].Details["latest"])
	})

	t.Run("missing root", func(t *testing.T) {
		checker := NewPublishChecker(afero.NewMemMapFs(), "/nowhere", "/nowhere/update.json", 0)
		health := checker.CheckHealth(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, StatusUnhealthy, health.Components["content"].Status)
		assert.False(t, checker.IsHealthy(ctx))
	})

	t.Run("invalid manifest", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/srv/update.json", []byte(`{"patches":[{"version":[1]}]}`), 0o644))

		health := NewPublishChecker(fsys, "/srv", "/srv/update.json", 0).CheckHealth(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, StatusHealthy, health.Components["content"].Status)
	})

	t.Run("empty manifest is degraded", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/srv/update.json", []byte(`{"patches":[]}`), 0o644))

		health := NewPublishChecker(fsys, "/srv", "/srv/update.json", 0).CheckHealth(ctx)
		assert.Equal(t, StatusDegraded, health.Status)
	})

	t.Run("result is cached", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/srv/update.json", []byte(manifestJSON), 0o644))
		checker := NewPublishChecker(fsys, "/srv", "/srv/update.json", time.Minute)

		assert.True(t, checker.IsHealthy(ctx))
		require.NoError(t, fsys.Remove("/srv/update.json"))
		assert.True(t, checker.IsHealthy(ctx), "cached result is reused within the TTL")
	})
}

func TestAggregateStatus(t *testing.T) {
	assert.Equal(t, StatusDegraded, aggregateStatus(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, aggregateStatus(StatusDegraded, StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, aggregateStatus(StatusUnhealthy, StatusHealthy))
}
