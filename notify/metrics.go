package notify

const (
	// MetricPublishedTotal 已发布的状态事件 (Counter)
	MetricPublishedTotal = "notify_published_total"

	// MetricFailedTotal 发布失败的状态事件 (Counter)
	MetricFailedTotal = "notify_failed_total"
)
