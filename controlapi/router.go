package controlapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/metrics"
	"github.com/ceyewan/dualpath/trace"
	"github.com/ceyewan/dualpath/transport"
	"github.com/ceyewan/dualpath/xerrors"
)

// 透传响应附带的元数据头
const (
	HeaderMode     = "X-Dualpath-Mode"
	HeaderCached   = "X-Dualpath-Cached"
	HeaderFallback = "X-Dualpath-Fallback"
	HeaderPath     = "X-Dualpath-Path"
)

type handler struct {
	ctl    Controller
	logger clog.Logger
}

func newRouter(cfg *Config, ctl Controller, o *options) (*gin.Engine, error) {
	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, cfg.ServiceName)
	if err != nil {
		return nil, xerrors.Wrap(err, "controlapi: create http metrics")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if o.tracing {
		engine.Use(trace.GinMiddleware(cfg.ServiceName))
	}
	engine.Use(metrics.GinHTTPMiddleware(httpMetrics, cfg.MetricsPath))

	h := &handler{ctl: ctl, logger: o.logger}

	engine.GET("/state", h.status)
	engine.GET("/fetch", h.fetch)

	conn := engine.Group("/connectivity")
	{
		conn.GET("", h.connectivity)
		conn.POST("/check", h.check)
		conn.POST("/retry", h.retry)
	}

	proxy := engine.Group("/proxy")
	{
		proxy.POST("/start", h.startProxy)
		proxy.POST("/enable", h.enableProxy)
		proxy.POST("/disable", h.disableProxy)
	}

	tr := engine.Group("/transport")
	{
		tr.GET("", h.transport)
		tr.PUT("/mode", h.setMode)
		tr.PUT("/auto-switch", h.setAutoSwitch)
	}

	c := engine.Group("/cache")
	{
		c.POST("/clear", h.clearCache)
		c.POST("/refresh", h.refreshCache)
	}

	if cfg.MetricsPath != "" {
		engine.GET(cfg.MetricsPath, gin.WrapH(o.meter.Handler()))
	}
	return engine, nil
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.Status())
}

func (h *handler) connectivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.GetState())
}

func (h *handler) check(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.CheckAllConnectivity(c.Request.Context()))
}

func (h *handler) retry(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.RetryConnections(c.Request.Context()))
}

func (h *handler) startProxy(c *gin.Context) {
	state, err := h.ctl.StartCorsProxy(c.Request.Context())
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "proxy start failed", clog.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": state})
		return
	}
	c.JSON(http.StatusOK, state)
}

type enableProxyRequest struct {
	URL string `json:"url"`
}

func (h *handler) enableProxy(c *gin.Context) {
	var req enableProxyRequest
	// 请求体可省略，此时使用配置中的代理地址
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := h.ctl.EnableProxy(req.URL); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctl.Transport())
}

func (h *handler) disableProxy(c *gin.Context) {
	h.ctl.DisableProxy()
	c.JSON(http.StatusOK, h.ctl.Transport())
}

func (h *handler) transport(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.Transport())
}

type modeRequest struct {
	Mode *transport.Mode `json:"mode"`
}

func (h *handler) setMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}
	if err := h.ctl.ForceMode(*req.Mode); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctl.Transport())
}

type autoSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *handler) setAutoSwitch(c *gin.Context) {
	var req autoSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	h.ctl.SetAutoSwitch(*req.Enabled)
	c.JSON(http.StatusOK, h.ctl.Transport())
}

func (h *handler) clearCache(c *gin.Context) {
	h.ctl.ClearCache()
	c.JSON(http.StatusOK, h.ctl.Status().Cache)
}

func (h *handler) refreshCache(c *gin.Context) {
	h.ctl.ForceRefresh()
	c.JSON(http.StatusOK, h.ctl.Status().Cache)
}

// fetch 经请求管道透传一次 GET，?endpoint= 必填，?mode= 与 ?cache= 可选
func (h *handler) fetch(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	var opts []client.CallOption
	if raw := c.Query("mode"); raw != "" {
		m, err := transport.ParseMode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts = append(opts, client.ViaMode(m))
	}
	if raw := c.Query("cache"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cache must be a boolean"})
			return
		}
		opts = append(opts, client.WithCache(enabled))
	}

	resp, err := h.ctl.Client().Get(c.Request.Context(), endpoint, opts...)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header(HeaderMode, resp.Mode.String())
	c.Header(HeaderPath, resp.Path)
	c.Header(HeaderCached, strconv.FormatBool(resp.Cached))
	c.Header(HeaderFallback, strconv.FormatBool(resp.Fallback))
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(http.StatusOK, contentType, resp.Body)
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.WarnContext(c.Request.Context(), "control request failed",
			clog.String("route", c.FullPath()), clog.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": client.KindOf(err).String()})
}

func statusOf(err error) int {
	switch {
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case xerrors.Is(err, transport.ErrNoProxy):
		return http.StatusConflict
	}
	switch client.KindOf(err) {
	case client.KindRateLimited:
		return http.StatusTooManyRequests
	case client.KindTimeout:
		return http.StatusGatewayTimeout
	case client.KindNotFound:
		return http.StatusNotFound
	case client.KindNetworkUnreachable, client.KindServerError, client.KindMalformedPayload:
		return http.StatusBadGateway
	case client.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
