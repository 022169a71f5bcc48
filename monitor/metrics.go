package monitor

const (
	// MetricProbeStatus 探针状态，1 表示连通 (Gauge)
	MetricProbeStatus = "monitor_probe_status"

	// MetricProbeDuration 探针耗时 (Histogram)
	MetricProbeDuration = "monitor_probe_duration_seconds"

	// LabelProbe 探针名称标签
	LabelProbe = "probe"
)
