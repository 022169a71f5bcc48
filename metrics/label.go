package metrics

// Label 指标标签，为指标添加维度信息
//
// 标签值应当相对稳定，避免把 URL、请求 ID 这类高基数值作为标签。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
//
//	counter.Inc(ctx, metrics.L("mode", "proxied"))
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
