package policy

const (
	MetricRetriesTotal          = "policy_retries_total"
	MetricTimeoutsTotal         = "policy_timeouts_total"
	MetricBulkheadRejectedTotal = "policy_bulkhead_rejected_total"
	MetricFallbacksTotal        = "policy_fallbacks_total"

	LabelChain = "chain"
)
