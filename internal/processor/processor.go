package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/platform"
)

const handleTimeout = 60 * time.Second

// Responder runs one dialog turn. *dialog.Engine satisfies it.
type Responder interface {
	Handle(ctx context.Context, userID, text string) (dialog.Reply, error)
}

// Processor answers inbound private messages through the dialog engine.
type Processor struct {
	engine Responder
	client platform.Client
	sleep  platform.Sleeper
	logger *slog.Logger
}

func New(engine Responder, client platform.Client, logger *slog.Logger) *Processor {
	return &Processor{
		engine: engine,
		client: client,
		sleep:  platform.Sleep,
		logger: logger,
	}
}

// HandleInbound is the NATS handler for envoy.gateway.message.received.
func (p *Processor) HandleInbound(subject string, data []byte) {
	var msg platform.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error("failed to parse inbound message", "subject", subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := p.Process(ctx, msg); err != nil {
		p.logger.Error("failed to answer message", "user_id", msg.User.ID, "message_id", msg.MessageID, "error", err)
	}
}

// Process runs msg through the engine and sends the reply back to its
// author. Empty messages and messages from bots or our own account are
// ignored.
func (p *Processor) Process(ctx context.Context, msg platform.InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.User.Bot || msg.User.Self {
		return nil
	}

	userID := strconv.FormatInt(msg.User.ID, 10)
	reply, err := p.engine.Handle(ctx, userID, text)
	if err != nil {
		// The reply text is still safe to send.
		p.logger.Warn("dialog turn failed", "user_id", userID, "error", err)
	}

	p.logger.Info("inbound message handled",
		"user_id", userID,
		"username", msg.User.Username,
		"intent", reply.Intent,
		"confidence", reply.Confidence,
		"entities", reply.Entities,
		"goal", reply.Goal,
		"completed", reply.Completed,
	)

	if reply.Text == "" {
		return nil
	}
	if err := platform.SendWithFloodRetry(ctx, p.client, p.sleep, msg.User.ID, reply.Text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
