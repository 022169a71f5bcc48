// Package controlapi 通过 HTTP 暴露会话的运维操作：查看状态、触发探测、
// 切换传输路径、启停代理、清理缓存。
//
//	srv, err := controlapi.New(&cfg.Server, sess,
//	    controlapi.WithLogger(logger),
//	    controlapi.WithMeter(sess.Meter()),
//	    controlapi.WithTracing(),
//	)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package controlapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/session"
	"github.com/ceyewan/dualpath/transport"
	"github.com/ceyewan/dualpath/xerrors"
)

// Controller 控制面依赖的会话操作，*session.Session 实现了该接口
type Controller interface {
	Client() client.Client
	Status() session.Status
	Transport() transport.Snapshot
	GetState() monitor.State

	CheckAllConnectivity(ctx context.Context) monitor.State
	RetryConnections(ctx context.Context) monitor.State
	StartCorsProxy(ctx context.Context) (monitor.State, error)

	EnableProxy(url string) error
	DisableProxy()
	ForceMode(m transport.Mode) error
	SetAutoSwitch(enabled bool)

	ClearCache()
	ForceRefresh()
}

var _ Controller = (*session.Session)(nil)

// Server 控制面 HTTP 服务
type Server struct {
	cfg    *Config
	srv    *http.Server
	logger clog.Logger
}

// New 创建控制面服务，路由在创建时注册完毕
func New(cfg *Config, ctl Controller, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if ctl == nil {
		return nil, ErrControllerNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	engine, err := newRouter(cfg, ctl, o)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        engine,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: o.logger,
	}, nil
}

// Handler 返回路由，便于测试或挂载到其他服务
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start 阻塞监听，Shutdown 后返回 nil
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "controlapi: listen %s", s.cfg.Addr)
	}
	return s.Serve(ln)
}

// Serve 在给定的监听器上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("control api listening", clog.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "controlapi: serve")
	}
	return nil
}

// Shutdown 优雅关闭，ctx 没有截止时间时使用 ShutdownTimeout
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return xerrors.Wrap(err, "controlapi: shutdown")
	}
	s.logger.Info("control api stopped")
	return nil
}
