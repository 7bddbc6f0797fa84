package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/connection"
	"github.com/erdlink/erdlink-go/pkg/log"
	"github.com/erdlink/erdlink-go/pkg/version"
)

var testCreds = auth.Credentials{AccessToken: "at-1", RefreshToken: "rt-1", UserID: "user-42"}

// fakeCloud is a websocket endpoint that records every frame it receives.
type fakeCloud struct {
	srv      *httptest.Server
	headers  chan http.Header
	conns    chan *websocket.Conn
	received chan Message
	silent   bool
}

func newFakeCloud(t *testing.T, silent bool) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{
		headers:  make(chan http.Header, 4),
		conns:    make(chan *websocket.Conn, 4),
		received: make(chan Message, 16),
		silent:   silent,
	}
	stop := make(chan struct{})

	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fc.headers <- r.Header.Clone()
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		fc.conns <- conn

		if fc.silent {
			// Never read, so pings go unanswered.
			<-stop
			return
		}
		for {
			var msg Message
			if err := wsjson.Read(context.Background(), conn, &msg); err != nil {
				return
			}
			fc.received <- msg
		}
	}))
	t.Cleanup(func() {
		close(stop)
		fc.srv.Close()
	})
	return fc
}

func (fc *fakeCloud) nextMessage(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-fc.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Message{}
	}
}

func (fc *fakeCloud) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fc.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

// fakeLink records what the transport reports.
type fakeLink struct {
	registry *appliance.Registry

	mu           sync.Mutex
	connected    int
	updates      []map[string]string
	availability []bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{registry: appliance.NewRegistry()}
}

func (l *fakeLink) SetConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected++
}

func (l *fakeLink) SessionID() string { return "test-session" }

func (l *fakeLink) Appliance(id string) *appliance.Appliance {
	a, _ := l.registry.GetOrCreate(id)
	return a
}

func (l *fakeLink) ApplianceUpdated(a *appliance.Appliance, changes map[string]string) {
	a.Update(changes)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, changes)
}

func (l *fakeLink) SetApplianceAvailability(a *appliance.Appliance, available bool) {
	a.SetAvailable(available)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.availability = append(l.availability, available)
}

func (l *fakeLink) counts() (connected, updates, availability int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected, len(l.updates), len(l.availability)
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

func (c *captureLogger) messages(dir log.Direction) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kinds []string
	for _, e := range c.events {
		if e.Message != nil && e.Direction == dir {
			kinds = append(kinds, e.Message.Kind)
		}
	}
	return kinds
}

func startDrive(t *testing.T, c *Client, link connection.Link) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Drive(context.Background(), testCreds, link)
	}()
	return errCh
}

func waitDrive(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Drive did not return")
		return nil
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{URL: "wss://example.invalid/ws"})
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, c.config.ConnectTimeout)
	assert.Equal(t, int64(DefaultMaxMessageSize), c.config.MaxMessageSize)
	assert.False(t, c.Connected())
}

func TestClientDrive(t *testing.T) {
	fc := newFakeCloud(t, false)
	capture := &captureLogger{}
	c, err := NewClient(ClientConfig{URL: fc.srv.URL, ProtocolLogger: capture})
	require.NoError(t, err)
	link := newFakeLink()

	errCh := startDrive(t, c, link)

	header := <-fc.headers
	assert.Equal(t, "Bearer at-1", header.Get("Authorization"))
	assert.Equal(t, version.UserAgent(), header.Get("User-Agent"))

	sub := fc.nextMessage(t)
	assert.Equal(t, KindSubscribe, sub.Kind)
	assert.Equal(t, "user-42", sub.UserID)

	server := fc.nextConn(t)
	ctx := context.Background()
	available := true
	require.NoError(t, wsjson.Write(ctx, server, Message{
		Kind:        KindPublish,
		ApplianceID: "D828C9000001",
		Attributes:  map[string]string{appliance.AttrApplianceType: "06"},
	}))
	require.NoError(t, wsjson.Write(ctx, server, Message{
		Kind:        KindAvailability,
		ApplianceID: "D828C9000001",
		Available:   &available,
	}))
	require.NoError(t, server.Write(ctx, websocket.MessageText, []byte("{not json")))

	assert.Eventually(t, func() bool {
		connected, updates, avail := link.counts()
		return connected == 1 && updates == 1 && avail == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "06", link.Appliance("D828C9000001").Type())
	assert.True(t, c.Connected())

	t.Run("SetValue", func(t *testing.T) {
		require.NoError(t, c.SetValue(ctx, "D828C9000001", "0x5100", "01"))
		msg := fc.nextMessage(t)
		assert.Equal(t, KindSet, msg.Kind)
		assert.Equal(t, "D828C9000001", msg.ApplianceID)
		assert.Equal(t, map[string]string{"0x5100": "01"}, msg.Attributes)
		assert.NotEmpty(t, msg.ID)
	})

	t.Run("RequestUpdate", func(t *testing.T) {
		require.NoError(t, c.RequestUpdate(ctx, "D828C9000001"))
		msg := fc.nextMessage(t)
		assert.Equal(t, KindRequestUpdate, msg.Kind)
	})

	c.Teardown()
	assert.NoError(t, waitDrive(t, errCh))
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.SetValue(ctx, "D828C9000001", "0x5100", "00"), ErrNotConnected)
	c.Teardown()

	assert.Equal(t, []string{"subscribe", "set", "request_update"}, capture.messages(log.DirectionOut))
	assert.Equal(t, []string{"publish", "availability"}, capture.messages(log.DirectionIn))
}

func TestClientServerClose(t *testing.T) {
	tests := []struct {
		name    string
		code    websocket.StatusCode
		wantErr bool
	}{
		{"Normal", websocket.StatusNormalClosure, false},
		{"InternalError", websocket.StatusInternalError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeCloud(t, false)
			c, err := NewClient(ClientConfig{URL: fc.srv.URL})
			require.NoError(t, err)

			errCh := startDrive(t, c, newFakeLink())
			fc.nextMessage(t)
			fc.nextConn(t).Close(tt.code, "bye")

			err = waitDrive(t, errCh)
			if tt.wantErr {
				assert.ErrorIs(t, err, connection.ErrTransport)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClientKeepAliveTimeout(t *testing.T) {
	fc := newFakeCloud(t, true)
	c, err := NewClient(ClientConfig{
		URL: fc.srv.URL,
		KeepAlive: KeepAliveConfig{
			PingInterval:   20 * time.Millisecond,
			PongTimeout:    10 * time.Millisecond,
			MaxMissedPongs: 2,
		},
	})
	require.NoError(t, err)

	link := newFakeLink()
	errCh := startDrive(t, c, link)

	err = waitDrive(t, errCh)
	assert.ErrorIs(t, err, connection.ErrTransport)
	assert.ErrorIs(t, err, ErrKeepAliveTimeout)

	connected, _, _ := link.counts()
	assert.Equal(t, 1, connected)
}

func TestClientDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{URL: srv.URL})
	require.NoError(t, err)
	link := newFakeLink()

	err = c.Drive(context.Background(), testCreds, link)
	assert.ErrorIs(t, err, connection.ErrTransport)

	connected, _, _ := link.counts()
	assert.Zero(t, connected)
}

func TestClientMissingToken(t *testing.T) {
	c, err := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)

	err = c.Drive(context.Background(), auth.Credentials{}, newFakeLink())
	assert.True(t, errors.Is(err, ErrMissingToken))
	assert.ErrorIs(t, err, connection.ErrTransport)
}

func TestClientExpiredToken(t *testing.T) {
	c, err := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	link := newFakeLink()

	expired := testCreds
	expired.Expiry = time.Now().Add(-time.Minute)

	err = c.Drive(context.Background(), expired, link)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, connection.ErrTransport)

	connected, _, _ := link.counts()
	assert.Zero(t, connected)
	assert.False(t, c.Connected())
}

func TestClientContextCancel(t *testing.T) {
	fc := newFakeCloud(t, false)
	c, err := NewClient(ClientConfig{URL: fc.srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Drive(ctx, testCreds, newFakeLink()) }()

	fc.nextMessage(t)
	cancel()

	assert.ErrorIs(t, waitDrive(t, errCh), context.Canceled)
}
