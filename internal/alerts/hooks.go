package alerts

import "github.com/airguardian/airguardian/internal/models"

type lifecycleHooks struct {
	created  func(*models.Alert)
	updated  func(*models.Alert)
	resolved func(*models.Alert)
	expired  func(*models.Alert)
	purged   func(*models.Alert)
	restored func(*models.Alert)
}

var metricHooks lifecycleHooks

// SetMetricHooks registers instrumentation for lifecycle transitions. Hooks
// are called with the manager lock held and must not call back into it.
func SetMetricHooks(created, updated, resolved, expired, purged, restored func(*models.Alert)) {
	metricHooks = lifecycleHooks{
		created:  created,
		updated:  updated,
		resolved: resolved,
		expired:  expired,
		purged:   purged,
		restored: restored,
	}
}
