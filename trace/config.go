package trace

// Config 链路追踪配置
//
//	trace:
//	  service_name: dualpath
//	  endpoint: "localhost:4317"   # 为空时只生成 TraceID，不导出
//	  sampler: 1.0
//	  batcher: batch               # batch|simple
//	  insecure: true
type Config struct {
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Sampler     float64 `mapstructure:"sampler"`
	Batcher     string  `mapstructure:"batcher"`
	Insecure    bool    `mapstructure:"insecure"`
}

// exporting 是否配置了 OTLP 导出端点
func (c *Config) exporting() bool {
	return c != nil && c.Endpoint != ""
}

// DefaultConfig 返回不导出的默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}
