package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinHTTPMiddleware 记录控制面的 HTTP RED 指标。
//
// skipRoutes 中的路由模板不计入指标，通常用于排除 Prometheus 自身的抓取请求。
func GinHTTPMiddleware(httpMetrics *HTTPServerMetrics, skipRoutes ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipRoutes))
	for _, r := range skipRoutes {
		if r != "" {
			skip[r] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if httpMetrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if _, ok := skip[route]; ok {
			return
		}
		// 未命中路由时归到同一个标签值
		if route == "" {
			route = UnknownRoute
		}
		httpMetrics.Observe(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
