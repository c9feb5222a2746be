package ratelimit

// 指标
const (
	// MetricChecksTotal 配额检查次数 (Counter)
	MetricChecksTotal = "ratelimit_checks_total"

	// MetricDeniedTotal 被拒绝的检查 (Counter)
	MetricDeniedTotal = "ratelimit_denied_total"

	// MetricRecordedTotal 计入配额的调用 (Counter)
	MetricRecordedTotal = "ratelimit_recorded_total"

	// MetricErrorsTotal 计数存储读写失败 (Counter)
	MetricErrorsTotal = "ratelimit_errors_total"

	// LabelWindow 窗口标签 (hour/day/throttle)
	LabelWindow = "window"
)
