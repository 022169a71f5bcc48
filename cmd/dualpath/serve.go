package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/config"
	"github.com/ceyewan/dualpath/controlapi"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/notify"
	"github.com/ceyewan/dualpath/session"
	"github.com/ceyewan/dualpath/trace"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run periodic connectivity checks and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "override monitor.interval")
	return cmd
}

func serve(ctx context.Context, flags *rootFlags, interval time.Duration) error {
	cfg, loader, sess, err := openSession(ctx, flags)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	logger := sess.Logger()

	traceShutdown, tracing, err := initTrace(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown failed", clog.Error(err))
		}
	}()

	unsubscribe := sess.Subscribe(logState(logger))
	defer unsubscribe()

	if cfg.Notify.Enabled {
		closeNotify, err := startNotify(ctx, cfg, sess)
		if err != nil {
			return err
		}
		defer closeNotify()
	}

	watchConfig(ctx, loader, sess)

	sess.StartMonitoring(interval)
	defer sess.StopMonitoring()

	if cfg.Server.Addr == "" {
		logger.Info("control api disabled, running checks only")
		<-ctx.Done()
		return nil
	}

	opts := []controlapi.Option{controlapi.WithLogger(logger), controlapi.WithMeter(sess.Meter())}
	if tracing {
		opts = append(opts, controlapi.WithTracing())
	}
	srv, err := controlapi.New(&cfg.Server, sess, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}
	return srv.Shutdown(context.Background())
}

// initTrace 配置了 endpoint 时上报 OTLP，否则只在进程内生成 span
func initTrace(cfg *appConfig) (func(context.Context) error, bool, error) {
	if cfg.Trace.Endpoint == "" {
		shutdown, err := trace.Discard(cfg.Trace.ServiceName)
		return shutdown, false, err
	}
	shutdown, err := trace.Init(&cfg.Trace)
	return shutdown, true, err
}

func startNotify(ctx context.Context, cfg *appConfig, sess *session.Session) (func(), error) {
	logger := sess.Logger()
	conn, err := notify.Connect(ctx, &cfg.Notify, notify.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	pub, err := notify.NewPublisher(conn, &cfg.Notify, notify.WithLogger(logger), notify.WithMeter(sess.Meter()))
	if err != nil {
		conn.Close()
		return nil, err
	}
	unsubscribe := sess.Subscribe(pub.Notify)
	return func() {
		unsubscribe()
		if err := conn.Drain(); err != nil {
			logger.Warn("nats drain failed", clog.Error(err))
		}
	}, nil
}

// watchConfig 配置文件变更时热更新自动切换开关和日志级别
func watchConfig(ctx context.Context, loader config.Loader, sess *session.Session) {
	logger := sess.Logger()

	if ch, err := loader.Watch(ctx, "transport.auto_switch"); err == nil {
		go func() {
			for ev := range ch {
				enabled, err := strconv.ParseBool(fmt.Sprint(ev.Value))
				if err != nil {
					logger.Warn("ignoring invalid transport.auto_switch", clog.Any("value", ev.Value))
					continue
				}
				sess.SetAutoSwitch(enabled)
				logger.Info("auto switch reloaded", clog.Bool("enabled", enabled))
			}
		}()
	}

	if ch, err := loader.Watch(ctx, "log.level"); err == nil {
		go func() {
			for ev := range ch {
				lvl, err := clog.ParseLevel(fmt.Sprint(ev.Value))
				if err != nil {
					logger.Warn("ignoring invalid log.level", clog.Any("value", ev.Value))
					continue
				}
				if err := logger.SetLevel(lvl); err == nil {
					logger.Info("log level reloaded", clog.String("level", lvl.String()))
				}
			}
		}()
	}
}

func logState(logger clog.Logger) monitor.Listener {
	return func(s monitor.State) {
		fields := make([]clog.Field, 0, len(monitor.Probes))
		for _, p := range monitor.Probes {
			fields = append(fields, clog.String(string(p), string(s.Get(p).Status)))
		}
		logger.Info("connectivity updated", fields...)
	}
}
