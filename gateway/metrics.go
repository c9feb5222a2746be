package gateway

const (
	MetricRequestsTotal   = "gateway_requests_total"
	MetricRequestDuration = "gateway_request_duration_seconds"
	MetricQuotaDenied     = "gateway_quota_denied_total"

	LabelOp     = "op"
	LabelResult = "result"
)

// 请求结果
const (
	ResultOK          = "ok"
	ResultCacheHit    = "cache_hit"
	ResultQuota       = "quota_exceeded"
	ResultUnavailable = "unavailable"
	ResultMalformed   = "malformed"
	ResultConfig      = "config_error"
	ResultInvalid     = "invalid"
)

// 操作名
const (
	OpGenerate   = "generate"
	OpStructured = "structured"
	OpVision     = "vision"
)
