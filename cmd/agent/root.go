package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/logger"
	"github.com/agent-uploader/pkg/registers"
	"github.com/agent-uploader/pkg/server"
	"github.com/agent-uploader/pkg/signal"
	"github.com/agent-uploader/pkg/util"
)

const (
	projectName     = "agent-uploader"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile   string
	GlobalCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   projectName,
	Short: "Telemetry upload agent: polls local data sources and ships compressed batches to a collector",
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		GlobalCfg, err = config.LoadConfigWithCli(cmd)
		if err != nil {
			// 统一输出错误到 stderr
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		if err := runAgent(cmd.Context(), GlobalCfg); err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "-> Config file path | 配置文件路径")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initUploadFlags(rootCmd)
	initMonitorFlags(rootCmd)
	initLogFlags(rootCmd)

	rootCmd.AddCommand(onceCmd)
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	log, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	// 程序退出时刷盘
	defer logger.Sync()

	util.PrintBanner(os.Stdout, projectName, "-> "+cfg.Upload.URL, "blue")
	logger.Info("configuration loaded",
		zap.String("config", cfgFile),
		zap.Duration("interval", cfg.Upload.Interval),
		zap.String("log_path", cfg.Log.Path))

	const enableProcess = true
	rt, err := registers.InitPromRegistry(enableProcess, cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go consumeCommands(ctx, rt.Commands, rt.Events, log.Named("command"))

	var httpServer *server.Server
	if cfg.Server.Enable {
		httpServer = server.NewHTTPServer(cfg.Server, log.Named("http"), rt.Registry, rt.Uploader)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("start HTTP server failed: %w", err)
		}
	}

	if err := rt.Agent.Start(ctx); err != nil {
		return err
	}

	return signal.WaitForShutdown(ctx, log, shutdownTimeout, func(sctx context.Context) error {
		// 关闭顺序：上报调度 → HTTP服务
		err := rt.Agent.Shutdown(sctx)
		if httpServer != nil {
			err = errors.Join(err, httpServer.Shutdown(sctx))
		}
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("all services shutdown successfully")
		return nil
	})
}
