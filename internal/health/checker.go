package health

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/manifest"
)

// Status values, ordered by severity
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentStatus is the health of one component
type ComponentStatus struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// SystemHealth is the aggregated health report
type SystemHealth struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
	Uptime     float64                    `json:"uptime_seconds"`
}

// PublishChecker reports whether a published release tree can be served:
// the content root must be a readable directory and the manifest must decode.
type PublishChecker struct {
	fs           afero.Fs
	root         string
	manifestPath string

	timeout   time.Duration
	startTime time.Time

	// Cached health status to avoid decoding the manifest on every request
	lastCheck   time.Time
	lastHealth  SystemHealth
	cacheTTL    time.Duration
	healthMutex sync.Mutex
}

// NewPublishChecker creates a checker for the content root and manifest
func NewPublishChecker(fsys afero.Fs, root, manifestPath string, cacheTTL time.Duration) *PublishChecker {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &PublishChecker{
		fs:           fsys,
		root:         root,
		manifestPath: manifestPath,
		timeout:      5 * time.Second,
		cacheTTL:     cacheTTL,
		startTime:    time.Now(),
	}
}

// CheckHealth performs the health check, reusing a recent result
func (h *PublishChecker) CheckHealth(ctx context.Context) SystemHealth {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	if h.cacheTTL > 0 && !h.lastCheck.IsZero() && time.Since(h.lastCheck) < h.cacheTTL {
		return h.lastHealth
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	now := time.Now()
	components := map[string]ComponentStatus{
		"content":  h.checkContent(checkCtx),
		"manifest": h.checkManifest(checkCtx),
	}

	overall := StatusHealthy
	for _, component := range components {
		overall = aggregateStatus(overall, component.Status)
	}

	systemHealth := SystemHealth{
		Status:     overall,
		Timestamp:  now,
		Components: components,
		Uptime:     time.Since(h.startTime).Seconds(),
	}

	h.lastCheck = now
	h.lastHealth = systemHealth
	return systemHealth
}

// IsHealthy returns true if the system is healthy
func (h *PublishChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckHealth(ctx).Status == StatusHealthy
}

func (h *PublishChecker) checkContent(ctx context.Context) ComponentStatus {
	status := ComponentStatus{Status: StatusHealthy, Timestamp: time.Now(), Details: map[string]any{"root": h.root}}
	if ctx.Err() != nil {
		status.Status = StatusUnhealthy
		status.Message = "Health check timed out"
		return status
	}

	info, err := h.fs.Stat(h.root)
	switch {
	case err != nil:
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	case !info.IsDir():
		status.Status = StatusUnhealthy
		status.Message = "Content root is not a directory"
	default:
		if _, err := afero.ReadDir(h.fs, h.root); err != nil {
			status.Status = StatusUnhealthy
			status.Message = err.Error()
		}
	}
	return status
}

func (h *PublishChecker) checkManifest(ctx context.Context) ComponentStatus {
	status := ComponentStatus{Status: StatusHealthy, Timestamp: time.Now(), Details: map[string]any{"path": h.manifestPath}}
	if ctx.Err() != nil {
		status.Status = StatusUnhealthy
		status.Message = "Health check timed out"
		return status
	}

	u, err := manifest.DecodeFile(h.fs, h.manifestPath)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
		return status
	}

	status.Details["patches"] = u.Count()
	if latest, err := u.LatestVersion(); err == nil {
		status.Details["latest"] = latest.String()
	} else {
		// An empty manifest is servable but offers nothing
		status.Status = StatusDegraded
		status.Message = "Manifest has no patches"
	}
	return status
}

// aggregateStatus determines the overall status based on component statuses
func aggregateStatus(current, componentStatus string) string {
	// Priority: unhealthy > degraded > healthy
	statusPriority := map[string]int{
		StatusHealthy:   0,
		StatusDegraded:  1,
		StatusUnhealthy: 2,
	}

	if statusPriority[componentStatus] > statusPriority[current] {
		return componentStatus
	}
	return current
}
