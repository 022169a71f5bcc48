package ratelimit

const (
	// MetricActivations 窗口打开次数 (Counter)
	MetricActivations = "ratelimit_activations_total"

	// MetricQueued 入队任务数 (Counter)，标签: kind=new|requeue
	MetricQueued = "ratelimit_queued_total"

	// MetricQueueLength 当前排队长度 (Gauge)
	MetricQueueLength = "ratelimit_queue_length"

	// MetricDropped 放弃的任务数 (Counter)，标签: reason
	MetricDropped = "ratelimit_dropped_total"
)
