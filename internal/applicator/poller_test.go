package applicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/upnet/internal/domain"
)

func TestNewPoller_MinimumInterval(t *testing.T) {
	p := newPublisher(t)
	app, _ := newApplicator(t, p, nil)

	assert.Equal(t, MinPollInterval, NewPoller(app, time.Second).Interval())
	assert.Equal(t, 5*time.Minute, NewPoller(app, 5*time.Minute).Interval())
}

func TestPoller_Poll(t *testing.T) {
	p := newPublisher(t)
	p.release("1.0.0.0", map[string]string{"a.txt": "alpha"})
	app, _ := newApplicator(t, p, nil)

	poller := NewPoller(app, time.Minute)
	var applied []*Report
	poller.SetOnApplied(func(r *Report) { applied = append(applied, r) })

	ctx := context.Background()
	report, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Patches)
	require.Len(t, applied, 1)
	assert.Equal(t, domain.NewVersion(1, 0, 0, 0), applied[0].To)

	report, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Len(t, applied, 1, "callback only fires when something was installed")
}

func TestPoller_StartStop(t *testing.T) {
	p := newPublisher(t)
	p.release("1.0.0.0", map[string]string{"a.txt": "alpha"})
	app, _ := newApplicator(t, p, nil)

	poller := NewPoller(app, time.Hour)
	var mu sync.Mutex
	var applied int
	installed := make(chan struct{})
	poller.SetOnApplied(func(*Report) {
		mu.Lock()
		defer mu.Unlock()
		applied++
		close(installed)
	})

	poller.Start(context.Background())

	select {
	case <-installed:
	case <-time.After(5 * time.Second):
		t.Fatal("initial poll did not apply the update")
	}

	poller.Stop()
	poller.Stop()

	select {
	case <-poller.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, applied)
	assert.Equal(t, "alpha", p.read("a.txt"))
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	p := newPublisher(t)
	app, _ := newApplicator(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	poller := NewPoller(app, time.Hour)
	poller.Start(ctx)
	cancel()

	select {
	case <-poller.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poll loop ignored context cancellation")
	}
}
