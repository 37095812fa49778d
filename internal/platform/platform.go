// Package platform is the boundary to the chat platform: account identity,
// group membership enumeration, user lookup and message delivery.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Bot       bool   `json:"bot,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	Self      bool   `json:"self,omitempty"`
}

type Group struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Client is implemented by Gateway and by test fakes.
type Client interface {
	Me(ctx context.Context) (*User, error)
	ResolveGroup(ctx context.Context, ref string) (*Group, error)
	// Members calls fn for each member of group until limit members were
	// delivered, the list is exhausted, or fn returns an error.
	Members(ctx context.Context, group *Group, limit int, fn func(User) error) error
	ResolveUser(ctx context.Context, username string) (*User, error)
	SendMessage(ctx context.Context, userID int64, text string) error
}

// TransportError wraps any failure talking to the platform.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FloodWaitError is the platform asking the caller to back off.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %ds", e.Seconds)
}

func (e *FloodWaitError) Duration() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendWithFloodRetry sends text and, if the platform answers with a flood
// wait, sleeps for the requested time and tries exactly once more.
func SendWithFloodRetry(ctx context.Context, c Client, sleep Sleeper, userID int64, text string) error {
	err := c.SendMessage(ctx, userID, text)
	var fw *FloodWaitError
	if !errors.As(err, &fw) {
		return err
	}
	if err := sleep(ctx, fw.Duration()); err != nil {
		return err
	}
	return c.SendMessage(ctx, userID, text)
}
