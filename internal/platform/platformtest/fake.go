// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/envoy/internal/platform"
)

// Sent is one delivered message.
type Sent struct {
	UserID int64
	Text   string
}

// Fake serves a fixed account, groups and users. SendErrs are returned by
// successive SendMessage calls before sends start succeeding.
type Fake struct {
	mu sync.Mutex

	Self            platform.User
	Groups          map[string]platform.Group
	GroupUsers      map[int64][]platform.User
	Users           map[string]platform.User
	MembersErr      error
	MembersErrAfter int
	SendErrs        []error
	Sent            []Sent
}

func New(self platform.User) *Fake {
	self.Self = true
	return &Fake{
		Self:       self,
		Groups:     make(map[string]platform.Group),
		GroupUsers: make(map[int64][]platform.User),
		Users:      make(map[string]platform.User),
	}
}

// AddGroup registers a group reachable by ref with the given members.
func (f *Fake) AddGroup(ref string, g platform.Group, members ...platform.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Groups[ref] = g
	f.GroupUsers[g.ID] = members
}

// AddUser registers a user resolvable by username.
func (f *Fake) AddUser(u platform.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[strings.ToLower(u.Username)] = u
}

func (f *Fake) Me(context.Context) (*platform.User, error) {
	u := f.Self
	return &u, nil
}

func (f *Fake) ResolveGroup(_ context.Context, ref string) (*platform.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Groups[ref]
	if !ok {
		return nil, &platform.TransportError{Op: platform.SubjectResolveGroup, Err: fmt.Errorf("group %s not found", ref)}
	}
	return &g, nil
}

func (f *Fake) Members(ctx context.Context, group *platform.Group, limit int, fn func(platform.User) error) error {
	f.mu.Lock()
	members := append([]platform.User(nil), f.GroupUsers[group.ID]...)
	membersErr, errAfter := f.MembersErr, f.MembersErrAfter
	f.mu.Unlock()

	for i, u := range members {
		if limit > 0 && i >= limit {
			return nil
		}
		if membersErr != nil && i >= errAfter {
			return membersErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	if membersErr != nil && errAfter >= len(members) {
		return membersErr
	}
	return nil
}

func (f *Fake) ResolveUser(_ context.Context, username string) (*platform.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.Users[strings.ToLower(strings.TrimPrefix(username, "@"))]
	if !ok {
		return nil, &platform.TransportError{Op: platform.SubjectResolveUser, Err: fmt.Errorf("user %s not found", username)}
	}
	return &u, nil
}

func (f *Fake) SendMessage(_ context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SendErrs) > 0 {
		err := f.SendErrs[0]
		f.SendErrs = f.SendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.Sent = append(f.Sent, Sent{UserID: userID, Text: text})
	return nil
}

// Messages returns a copy of everything sent so far.
func (f *Fake) Messages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.Sent...)
}
