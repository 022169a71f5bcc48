package cache

const (
	// MetricHits 命中次数 (Counter)
	MetricHits = "cache_hits_total"

	// MetricMisses 未命中次数，包含过期 (Counter)，标签: reason=absent|expired
	MetricMisses = "cache_misses_total"

	// MetricClears 清空次数 (Counter)，标签: kind=clear|rotate
	MetricClears = "cache_clears_total"
)
