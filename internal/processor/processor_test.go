package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/dialog"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/platform"
	"github.com/MikeSquared-Agency/envoy/internal/platform/platformtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type turn struct {
	userID string
	text   string
}

type fakeEngine struct {
	reply dialog.Reply
	err   error
	turns []turn
}

func (f *fakeEngine) Handle(_ context.Context, userID, text string) (dialog.Reply, error) {
	f.turns = append(f.turns, turn{userID, text})
	return f.reply, f.err
}

func newProcessor(engine *fakeEngine, fake *platformtest.Fake) *Processor {
	p := New(engine, fake, discardLogger())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestHandleInbound_RepliesToAuthor(t *testing.T) {
	engine := &fakeEngine{reply: dialog.Reply{Text: "Как к вам обращаться?", Intent: nlu.IntentScheduleMeeting}}
	fake := platformtest.New(platform.User{ID: 1})
	p := newProcessor(engine, fake)

	data, _ := json.Marshal(platform.InboundMessage{
		MessageID: 10,
		ChatID:    42,
		User:      platform.User{ID: 42, Username: "ivan"},
		Text:      "  Хочу записаться на демо ",
	})
	p.HandleInbound("envoy.gateway.message.received", data)

	if len(engine.turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(engine.turns))
	}
	if engine.turns[0].userID != "42" || engine.turns[0].text != "Хочу записаться на демо" {
		t.Errorf("unexpected turn: %+v", engine.turns[0])
	}

	sent := fake.Messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(sent))
	}
	if sent[0].UserID != 42 || sent[0].Text != "Как к вам обращаться?" {
		t.Errorf("unexpected message: %+v", sent[0])
	}
}

func TestProcess_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  platform.InboundMessage
	}{
		{"empty", platform.InboundMessage{User: platform.User{ID: 2}, Text: "   "}},
		{"bot", platform.InboundMessage{User: platform.User{ID: 3, Bot: true}, Text: "hi"}},
		{"self", platform.InboundMessage{User: platform.User{ID: 1, Self: true}, Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{reply: dialog.Reply{Text: "x"}}
			fake := platformtest.New(platform.User{ID: 1})
			p := newProcessor(engine, fake)

			if err := p.Process(context.Background(), tt.msg); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(engine.turns) != 0 || len(fake.Messages()) != 0 {
				t.Error("expected message to be ignored")
			}
		})
	}
}

func TestProcess_EngineErrorStillReplies(t *testing.T) {
	engine := &fakeEngine{
		reply: dialog.Reply{Text: "Извините, я не понял вопрос."},
		err:   errors.New("lead store down"),
	}
	fake := platformtest.New(platform.User{ID: 1})
	p := newProcessor(engine, fake)

	err := p.Process(context.Background(), platform.InboundMessage{User: platform.User{ID: 5}, Text: "ivan@test.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.Messages()) != 1 {
		t.Error("expected fallback reply to be sent")
	}
}

func TestProcess_SendFailure(t *testing.T) {
	engine := &fakeEngine{reply: dialog.Reply{Text: "Привет"}}
	fake := platformtest.New(platform.User{ID: 1})
	fake.SendErrs = []error{&platform.TransportError{Op: platform.SubjectSendMessage, Err: errors.New("privacy")}}
	p := newProcessor(engine, fake)

	err := p.Process(context.Background(), platform.InboundMessage{User: platform.User{ID: 5}, Text: "Привет"})
	var te *platform.TransportError
	if !errors.As(err, &te) {
		t.Errorf("expected TransportError, got %v", err)
	}
}

func TestProcess_FloodWaitRetried(t *testing.T) {
	engine := &fakeEngine{reply: dialog.Reply{Text: "Привет"}}
	fake := platformtest.New(platform.User{ID: 1})
	fake.SendErrs = []error{&platform.FloodWaitError{Seconds: 2}}

	var slept time.Duration
	p := New(engine, fake, discardLogger())
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	if err := p.Process(context.Background(), platform.InboundMessage{User: platform.User{ID: 5}, Text: "Привет"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slept != 2*time.Second {
		t.Errorf("expected 2s flood wait, got %v", slept)
	}
	if len(fake.Messages()) != 1 {
		t.Error("expected message delivered after retry")
	}
}

func TestHandleInbound_BadPayload(t *testing.T) {
	engine := &fakeEngine{}
	p := newProcessor(engine, platformtest.New(platform.User{ID: 1}))
	p.HandleInbound("envoy.gateway.message.received", []byte("{not json"))
	if len(engine.turns) != 0 {
		t.Error("expected no turn for malformed payload")
	}
}
