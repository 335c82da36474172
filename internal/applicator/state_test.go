package applicator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/upnet/internal/domain"
)

func TestStateStore(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewStateStore(fsys, "/opt/app/"+StateFileName)

	t.Run("missing file is a fresh install", func(t *testing.T) {
		installed, err := store.Installed()
		require.NoError(t, err)
		assert.Equal(t, domain.Version{}, installed)
	})

	t.Run("record appends history", func(t *testing.T) {
		at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, store.Record(domain.Version{}, domain.NewVersion(1, 0, 0, 0), 1, at))
		require.NoError(t, store.Record(domain.NewVersion(1, 0, 0, 0), domain.NewVersion(1, 2, 0, 0), 2, at.Add(time.Hour)))

		state, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, "1.2.0.0", state.Version)
		assert.Equal(t, at.Add(time.Hour), state.UpdatedAt)
		require.Len(t, state.History, 2)
		assert.Equal(t, "1.0.0.0", state.History[1].From)
		assert.Equal(t, "1.2.0.0", state.History[1].To)
	})

	t.Run("history is bounded", func(t *testing.T) {
		bounded := NewStateStore(afero.NewMemMapFs(), "/state.json")
		from := domain.Version{}
		for i := 1; i <= maxHistory+5; i++ {
			to := domain.NewVersion(1, 0, 0, i)
			require.NoError(t, bounded.Record(from, to, 1, time.Now()))
			from = to
		}
		state, err := bounded.Load()
		require.NoError(t, err)
		assert.Len(t, state.History, maxHistory)
		assert.Equal(t, "1.0.0.6", state.History[0].To)
	})

	t.Run("corrupt file", func(t *testing.T) {
		corrupt := NewStateStore(fsys, "/corrupt.json")
		require.NoError(t, afero.WriteFile(fsys, "/corrupt.json", []byte("{not json"), 0o644))
		_, err := corrupt.Installed()
		assert.True(t, domain.HasCode(err, domain.ErrInvalidInput))

		require.NoError(t, afero.WriteFile(fsys, "/corrupt.json", []byte(`{"version":"x.y"}`), 0o644))
		_, err = corrupt.Installed()
		assert.True(t, domain.HasCode(err, domain.ErrInvalidInput))
	})
}

func TestRunShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell syntax")
	}
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, RunShell(ctx, dir, "echo ok > marker.txt"))
	data, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(data))

	err = RunShell(ctx, dir, "exit 3")
	assert.True(t, domain.HasCode(err, domain.ErrPostCommandFailed))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = RunShell(cancelled, dir, "sleep 5")
	assert.True(t, domain.IsCancelled(err))
}
