package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ceyewan/dualpath/clog"
	"github.com/ceyewan/dualpath/config"
	"github.com/ceyewan/dualpath/controlapi"
	"github.com/ceyewan/dualpath/session"
)

// appConfig 命令行使用的完整配置，会话配置平铺在顶层
type appConfig struct {
	session.Config `mapstructure:",squash"`

	Server controlapi.Config `mapstructure:"server"`
}

type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "dualpath",
		Short:         "Dual-path HTTP client with proxy failover, caching and rate-limit queueing",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default ./dualpath.yaml or ./config/dualpath.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug|info|warn|error)")

	root.AddCommand(
		newServeCmd(flags),
		newProbeCmd(flags),
		newGetCmd(flags),
	)
	return root
}

func defaults() map[string]any {
	d := session.Defaults()
	d["server.addr"] = ":8080"
	d["server.service_name"] = "dualpath"
	d["server.metrics_path"] = "/metrics"
	d["server.shutdown_timeout"] = "5s"
	return d
}

// loadConfig 按 默认值 < 配置文件 < .env < 环境变量 的顺序合并配置
func loadConfig(ctx context.Context, flags *rootFlags) (*appConfig, config.Loader, error) {
	loader, err := config.Load(ctx, &config.Config{File: flags.configFile},
		config.WithDefaults(defaults()))
	if err != nil {
		return nil, nil, err
	}

	var cfg appConfig
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, nil, err
	}
	if lvl := strings.TrimSpace(flags.logLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	return &cfg, loader, nil
}

// openSession 加载配置并创建会话，调用方负责 Close
func openSession(ctx context.Context, flags *rootFlags) (*appConfig, config.Loader, *session.Session, error) {
	cfg, loader, err := loadConfig(ctx, flags)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := clog.New(&cfg.Log, clog.WithNamespace("dualpath"), clog.WithStandardContext())
	if err != nil {
		return nil, nil, nil, err
	}

	sess, err := session.New(&cfg.Config, session.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Debug("configuration loaded", clog.String("file", used))
	}
	return cfg, loader, sess, nil
}
