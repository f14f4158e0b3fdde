package metrics

import (
	"strconv"
	"time"

	"github.com/tgrelay/tgrelay/internal/observability"
)

// Relay metric names
const (
	DispatchTotal         = "relay_dispatch_total"
	QuotaDeniedTotal      = "relay_quota_denied_total"
	QuotaTrackedUsers     = "relay_quota_tracked_users"
	QuotaEvictedTotal     = "relay_quota_evicted_records_total"
	UpstreamRequestsTotal = "relay_upstream_requests_total"
	UpstreamDuration      = "relay_upstream_duration_ms"
	BroadcastDelivered    = "relay_broadcast_deliveries_total"
	TelegramUpdatesTotal  = "relay_telegram_updates_total"
	BackoffStoreErrors    = "relay_backoff_store_errors_total"
)

// RecordDispatch records one terminal dispatch outcome.
func RecordDispatch(command, status, kind string) {
	if observability.TelemetrySystem == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	_ = observability.TelemetrySystem.Counter(
		DispatchTotal,
		1,
		map[string]string{
			"command": command,
			"status":  status,
			"kind":    kind,
		},
	)
}

// RecordQuotaDenied records a request refused by the daily limit.
func RecordQuotaDenied(command string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			QuotaDeniedTotal,
			1,
			map[string]string{"command": command},
		)
	}
}

// SetTrackedUsers records how many users currently hold usage records.
func SetTrackedUsers(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			QuotaTrackedUsers,
			float64(count),
			nil,
		)
	}
}

// RecordEviction records how many stale usage records were dropped.
func RecordEviction(removed int) {
	if observability.TelemetrySystem != nil && removed > 0 {
		_ = observability.TelemetrySystem.Counter(
			QuotaEvictedTotal,
			float64(removed),
			nil,
		)
	}
}

// RecordUpstream records one backend call and its latency.
func RecordUpstream(backend string, success bool, statusCode int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamRequestsTotal,
		1,
		map[string]string{
			"backend":     backend,
			"status":      status,
			"status_code": strconv.Itoa(statusCode),
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		UpstreamDuration,
		duration,
		map[string]string{"backend": backend},
	)
}

// RecordBroadcast records delivery counts of one broadcast.
func RecordBroadcast(succeeded, failed int) {
	if observability.TelemetrySystem == nil {
		return
	}
	if succeeded > 0 {
		_ = observability.TelemetrySystem.Counter(BroadcastDelivered, float64(succeeded), map[string]string{"status": "success"})
	}
	if failed > 0 {
		_ = observability.TelemetrySystem.Counter(BroadcastDelivered, float64(failed), map[string]string{"status": "failure"})
	}
}

// RecordTelegramUpdate records one inbound Telegram update by type.
func RecordTelegramUpdate(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			TelegramUpdatesTotal,
			1,
			map[string]string{"type": kind},
		)
	}
}

// RecordBackoffStoreError counts a failed read or write of backend backoff
// state. op is one of allow, record or throttled.
func RecordBackoffStoreError(backend, op string) {
	counter(BackoffStoreErrors, map[string]string{"backend": backend, "op": op})
}
