package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBus answers requests through a handler, round-tripping payloads
// through JSON the way the NATS client does.
type fakeBus struct {
	handler func(subject string, req map[string]any) (envelope, error)
	calls   []string
}

func (f *fakeBus) Request(_ context.Context, subject string, req, resp any) error {
	f.calls = append(f.calls, subject)
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)

	env, err := f.handler(subject, decoded)
	if err != nil {
		return err
	}
	out, _ := json.Marshal(env)
	return json.Unmarshal(out, resp)
}

func data(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestGateway_Me(t *testing.T) {
	bus := &fakeBus{handler: func(subject string, _ map[string]any) (envelope, error) {
		if subject != SubjectMe {
			t.Errorf("expected subject %s, got %s", SubjectMe, subject)
		}
		return envelope{OK: true, Data: data(User{ID: 42, Username: "envoy_bot", Self: true})}, nil
	}}

	g := NewGateway(bus, discardLogger())
	me, err := g.Me(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if me.ID != 42 || !me.Self {
		t.Errorf("unexpected user: %+v", me)
	}
}

func TestGateway_ResolveUserStripsAt(t *testing.T) {
	bus := &fakeBus{handler: func(_ string, req map[string]any) (envelope, error) {
		if req["username"] != "ivan" {
			t.Errorf("expected username ivan, got %v", req["username"])
		}
		return envelope{OK: true, Data: data(User{ID: 7, Username: "ivan"})}, nil
	}}

	g := NewGateway(bus, discardLogger())
	if _, err := g.ResolveUser(context.Background(), "@ivan"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGateway_MembersPaginatesAndHonoursLimit(t *testing.T) {
	all := make([]User, 250)
	for i := range all {
		all[i] = User{ID: int64(i + 1)}
	}

	bus := &fakeBus{handler: func(_ string, req map[string]any) (envelope, error) {
		offset := int(req["offset"].(float64))
		limit := int(req["limit"].(float64))
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		return envelope{OK: true, Data: data(membersPage{Users: all[offset:end], Done: end == len(all)})}, nil
	}}

	g := NewGateway(bus, discardLogger())

	var got []int64
	err := g.Members(context.Background(), &Group{ID: 1}, 150, func(u User) error {
		got = append(got, u.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 150 {
		t.Fatalf("expected 150 members, got %d", len(got))
	}
	if got[149] != 150 {
		t.Errorf("expected last id 150, got %d", got[149])
	}
	if len(bus.calls) != 2 {
		t.Errorf("expected 2 page requests, got %d", len(bus.calls))
	}

	got = nil
	if err := g.Members(context.Background(), &Group{ID: 1}, 0, func(u User) error {
		got = append(got, u.ID)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 250 {
		t.Errorf("expected all 250 members without a limit, got %d", len(got))
	}
}

func TestGateway_MembersStopsOnCallbackError(t *testing.T) {
	bus := &fakeBus{handler: func(string, map[string]any) (envelope, error) {
		return envelope{OK: true, Data: data(membersPage{Users: []User{{ID: 1}, {ID: 2}}})}, nil
	}}
	g := NewGateway(bus, discardLogger())

	stop := errors.New("stop")
	err := g.Members(context.Background(), &Group{ID: 1}, 10, func(User) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestGateway_FloodWait(t *testing.T) {
	bus := &fakeBus{handler: func(string, map[string]any) (envelope, error) {
		return envelope{OK: false, FloodWaitSeconds: 30}, nil
	}}
	g := NewGateway(bus, discardLogger())

	err := g.SendMessage(context.Background(), 1, "hi")
	var fw *FloodWaitError
	if !errors.As(err, &fw) {
		t.Fatalf("expected FloodWaitError, got %v", err)
	}
	if fw.Duration() != 30*time.Second {
		t.Errorf("expected 30s, got %v", fw.Duration())
	}
}

func TestGateway_TransportErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(string, map[string]any) (envelope, error)
	}{
		{"bus failure", func(string, map[string]any) (envelope, error) {
			return envelope{}, errors.New("no responders")
		}},
		{"rejected", func(string, map[string]any) (envelope, error) {
			return envelope{OK: false, Error: "USER_PRIVACY_RESTRICTED"}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(&fakeBus{handler: tt.handler}, discardLogger())
			err := g.SendMessage(context.Background(), 1, "hi")
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransportError, got %v", err)
			}
			if te.Op != SubjectSendMessage {
				t.Errorf("expected op %s, got %s", SubjectSendMessage, te.Op)
			}
		})
	}
}

func TestGateway_SendCarriesRequestID(t *testing.T) {
	bus := &fakeBus{handler: func(_ string, req map[string]any) (envelope, error) {
		if id, _ := req["request_id"].(string); len(id) != 36 {
			t.Errorf("expected uuid request_id, got %v", req["request_id"])
		}
		if req["text"] != "Привет" {
			t.Errorf("expected text, got %v", req["text"])
		}
		return envelope{OK: true}, nil
	}}
	g := NewGateway(bus, discardLogger())
	if err := g.SendMessage(context.Background(), 5, "Привет"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type scriptedSender struct {
	Client
	errs  []error
	calls int
}

func (s *scriptedSender) SendMessage(context.Context, int64, string) error {
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	return err
}

func TestSendWithFloodRetry(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	s := &scriptedSender{errs: []error{&FloodWaitError{Seconds: 3}, nil}}
	if err := SendWithFloodRetry(context.Background(), s, sleep, 1, "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", s.calls)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("expected a single 3s sleep, got %v", slept)
	}

	// A second flood wait is returned, not retried again.
	s = &scriptedSender{errs: []error{&FloodWaitError{Seconds: 1}, &FloodWaitError{Seconds: 1}}}
	err := SendWithFloodRetry(context.Background(), s, sleep, 1, "hi")
	var fw *FloodWaitError
	if !errors.As(err, &fw) {
		t.Errorf("expected FloodWaitError after retry, got %v", err)
	}
	if s.calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", s.calls)
	}

	// Other errors are not retried.
	s = &scriptedSender{errs: []error{errors.New("boom")}}
	if err := SendWithFloodRetry(context.Background(), s, sleep, 1, "hi"); err == nil {
		t.Error("expected error")
	}
	if s.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", s.calls)
	}
}

func TestSleep_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
