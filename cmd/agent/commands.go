package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/collector"
	"github.com/agent-uploader/pkg/command"
)

// consumeCommands is the host side of the command stream. Commands are
// logged and echoed back as "command" events so the collector sees them
// acknowledged in a later upload.
func consumeCommands(ctx context.Context, q *command.Queue, events *collector.EventsCollector, log *zap.Logger) {
	for {
		cmd, err := q.Next(ctx)
		if err != nil {
			return
		}
		log.Info("received command", zap.String("key", cmd.Key), zap.Any("value", cmd.Value))
		if events != nil {
			events.Record("command", map[string]any{"key": cmd.Key})
		}
	}
}
