package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/codec"
	"github.com/agent-uploader/pkg/command"
	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/logger"
	"github.com/agent-uploader/pkg/registers"
	"github.com/agent-uploader/pkg/uploader"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Poll every source and upload a single batch, then exit | 执行一次采样与上报后退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigWithCli(cmd)
		if err != nil {
			return err
		}
		log, err := logger.InitLogger(&cfg.Log)
		if err != nil {
			return fmt.Errorf("日志初始化失败: %w", err)
		}
		defer logger.Sync()
		return runOnce(cmd.Context(), cfg, log, cmd.OutOrStdout())
	},
}

// runOnce performs one cycle and prints every relayed command as a JSON line.
func runOnce(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	rt, err := registers.InitPromRegistry(false, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Agent.CloseAll()

	status := rt.Agent.RunOnce(ctx)
	if err := printCommands(rt.Commands, out); err != nil {
		return err
	}
	if status != uploader.StatusOK {
		return fmt.Errorf("upload failed: %s", status)
	}
	return nil
}

func printCommands(q *command.Queue, out io.Writer) error {
	for {
		cmd, ok := q.TryGet()
		if !ok {
			return nil
		}
		line, err := codec.Marshal(map[string]any{cmd.Key: cmd.Value})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(line)); err != nil {
			return err
		}
	}
}
