package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gateway request/reply subjects served by the platform bridge, and the
// subject it publishes inbound messages on.
const (
	SubjectMe           = "envoy.gateway.me"
	SubjectResolveGroup = "envoy.gateway.group.resolve"
	SubjectMembers      = "envoy.gateway.group.members"
	SubjectResolveUser  = "envoy.gateway.user.resolve"
	SubjectSendMessage  = "envoy.gateway.message.send"
	SubjectInbound      = "envoy.gateway.message.received"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultPageSize       = 100
)

// Requester is satisfied by *hermes.Client.
type Requester interface {
	Request(ctx context.Context, subject string, req, resp any) error
}

// InboundMessage is what the bridge publishes for each private message.
type InboundMessage struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	User      User   `json:"user"`
	Text      string `json:"text"`
	Date      string `json:"date,omitempty"`
}

type envelope struct {
	OK               bool            `json:"ok"`
	Error            string          `json:"error,omitempty"`
	FloodWaitSeconds int             `json:"flood_wait_seconds,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
}

type membersRequest struct {
	GroupID int64 `json:"group_id"`
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
}

type membersPage struct {
	Users []User `json:"users"`
	Done  bool   `json:"done"`
}

type sendRequest struct {
	RequestID string `json:"request_id"`
	UserID    int64  `json:"user_id"`
	Text      string `json:"text"`
}

// Gateway implements Client over NATS request/reply to an external bridge
// holding the platform session.
type Gateway struct {
	bus      Requester
	timeout  time.Duration
	pageSize int
	logger   *slog.Logger
}

func NewGateway(bus Requester, logger *slog.Logger) *Gateway {
	return &Gateway{
		bus:      bus,
		timeout:  defaultRequestTimeout,
		pageSize: defaultPageSize,
		logger:   logger,
	}
}

func (g *Gateway) Me(ctx context.Context) (*User, error) {
	var u User
	if err := g.call(ctx, SubjectMe, struct{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *Gateway) ResolveGroup(ctx context.Context, ref string) (*Group, error) {
	var grp Group
	if err := g.call(ctx, SubjectResolveGroup, map[string]string{"ref": ref}, &grp); err != nil {
		return nil, err
	}
	return &grp, nil
}

func (g *Gateway) Members(ctx context.Context, group *Group, limit int, fn func(User) error) error {
	delivered := 0
	offset := 0
	for limit <= 0 || delivered < limit {
		size := g.pageSize
		if limit > 0 && limit-delivered < size {
			size = limit - delivered
		}

		var page membersPage
		if err := g.call(ctx, SubjectMembers, membersRequest{GroupID: group.ID, Offset: offset, Limit: size}, &page); err != nil {
			return err
		}
		for _, u := range page.Users {
			if err := fn(u); err != nil {
				return err
			}
			delivered++
			if limit > 0 && delivered >= limit {
				return nil
			}
		}
		offset += len(page.Users)
		if page.Done || len(page.Users) == 0 {
			return nil
		}
	}
	return nil
}

func (g *Gateway) ResolveUser(ctx context.Context, username string) (*User, error) {
	var u User
	if err := g.call(ctx, SubjectResolveUser, map[string]string{"username": strings.TrimPrefix(username, "@")}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (g *Gateway) SendMessage(ctx context.Context, userID int64, text string) error {
	req := sendRequest{RequestID: uuid.NewString(), UserID: userID, Text: text}
	return g.call(ctx, SubjectSendMessage, req, nil)
}

func (g *Gateway) call(ctx context.Context, subject string, req, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var env envelope
	if err := g.bus.Request(ctx, subject, req, &env); err != nil {
		return &TransportError{Op: subject, Err: err}
	}
	if env.FloodWaitSeconds > 0 {
		g.logger.Warn("flood wait from platform", "subject", subject, "seconds", env.FloodWaitSeconds)
		return &FloodWaitError{Seconds: env.FloodWaitSeconds}
	}
	if !env.OK {
		msg := env.Error
		if msg == "" {
			msg = "request rejected"
		}
		return &TransportError{Op: subject, Err: errors.New(msg)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{Op: subject, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
