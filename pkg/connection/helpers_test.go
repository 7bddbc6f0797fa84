package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/log"
)

var testCreds = auth.Credentials{
	AccessToken:  "at-1",
	RefreshToken: "rt-1",
	UserID:       "user-42",
}

type stubAuth struct{ mock.Mock }

func (s *stubAuth) FullLogin(ctx context.Context) (auth.Credentials, error) {
	args := s.Called(ctx)
	return args.Get(0).(auth.Credentials), args.Error(1)
}

func (s *stubAuth) RefreshLogin(ctx context.Context, current auth.Credentials) (auth.Credentials, error) {
	args := s.Called(ctx, current)
	return args.Get(0).(auth.Credentials), args.Error(1)
}

type stubTransport struct{ mock.Mock }

func (s *stubTransport) Drive(ctx context.Context, creds auth.Credentials, link Link) error {
	args := s.Called(ctx, creds, link)
	return args.Error(0)
}

func (s *stubTransport) Teardown() {
	s.Called()
}

// newTestSupervisor returns a supervisor with a 1ms reconnect delay.
func newTestSupervisor(t *testing.T, mutate func(*Config)) (*Supervisor, *stubAuth, *stubTransport) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ReconnectDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	a := &stubAuth{}
	tr := &stubTransport{}
	s, err := NewSupervisor(cfg, a, tr)
	require.NoError(t, err)

	t.Cleanup(func() {
		a.AssertExpectations(t)
		tr.AssertExpectations(t)
	})
	return s, a, tr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recorder collects every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(b *Bus) *recorder {
	r := &recorder{}
	for _, k := range EventKinds {
		b.Subscribe(k, r.add)
	}
	return r
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// sorted returns the events in publish order.
func (r *recorder) sorted() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Event(nil), r.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// transitions returns "OLD->NEW" for every state change in publish order.
func (r *recorder) transitions() []string {
	var out []string
	for _, e := range r.sorted() {
		if e.Kind == EventStateChanged {
			out = append(out, fmt.Sprintf("%s->%s", e.StateChange.Old, e.StateChange.New))
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range r.sorted() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) byCategory(cat log.Category) []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []log.Event
	for _, e := range c.events {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}
