package cache

const (
	MetricHitsTotal          = "cache_hits_total"
	MetricMissesTotal        = "cache_misses_total"
	MetricEvictionsTotal     = "cache_evictions_total"
	MetricInvalidationsTotal = "cache_invalidations_total"

	LabelTier = "tier"
)

const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"
)
