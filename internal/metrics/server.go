package metrics

import (
	"time"

	"github.com/tgrelay/tgrelay/internal/observability"
)

// Process and operator metric names
const (
	AdminActionsTotal   = "relay_admin_actions_total"
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	ServerUptime        = "app_server_uptime_seconds"
)

func outcomeLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordAdminAction counts an operator action from chat or the HTTP API.
func RecordAdminAction(action, surface string, success bool) {
	counter(AdminActionsTotal, map[string]string{
		"action":  action,
		"surface": surface,
		"status":  outcomeLabel(success, "success", "failure"),
	})
}

// RecordHealthCheck records one named check run by the health manager.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	_ = sys.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": outcomeLabel(healthy, "healthy", "unhealthy"),
	})
	_ = sys.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime sets the process start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp))
}

// SetServerUptime sets the process uptime in seconds.
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds))
}

func counter(name string, tags map[string]string) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, tags)
	}
}

func gauge(name string, value float64) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, nil)
	}
}
