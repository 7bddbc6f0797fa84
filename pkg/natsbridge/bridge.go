// Package natsbridge forwards session events to NATS so other services can
// follow appliance availability without their own cloud session.
//
// Every event is published as JSON on "<prefix>.<kind>", for example
// "erdlink.state_changed" or "erdlink.appliance_available". When a
// snapshot store is configured, the latest state of each appliance is
// also kept in a JetStream key-value bucket keyed by appliance id.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/connection"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "erdlink"

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SnapshotStore keeps the latest appliance snapshot per key.
// jetstream.KeyValue satisfies it.
type SnapshotStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Payload is the JSON body of a forwarded event.
type Payload struct {
	Kind      string    `json:"kind"`
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"sessionId,omitempty"`

	OldState string `json:"oldState,omitempty"`
	NewState string `json:"newState,omitempty"`

	Appliance *Snapshot `json:"appliance,omitempty"`
}

// Snapshot describes an appliance at the time of an event.
type Snapshot struct {
	ID          string            `json:"id"`
	Type        string            `json:"type,omitempty"`
	Available   bool              `json:"available"`
	Initialized bool              `json:"initialized"`
	Values      map[string]string `json:"values,omitempty"`
}

// Config configures a Bridge.
type Config struct {
	// Prefix is the subject prefix (default: "erdlink").
	Prefix string

	// SessionID is copied into every payload.
	SessionID string

	// Snapshots, if set, receives appliance snapshots.
	Snapshots SnapshotStore

	// Logger is the operational logger (nil disables logging).
	Logger *slog.Logger
}

// Bridge subscribes to a bus and forwards events to a Publisher.
type Bridge struct {
	pub    Publisher
	config Config
	logger *slog.Logger
	closer func()

	mu   sync.Mutex
	bus  connection.Subscriber
	subs []connection.Subscription
}

// New creates a bridge publishing through pub.
func New(pub Publisher, config Config) *Bridge {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{pub: pub, config: config, logger: logger}
}

// Connect dials the NATS server at url and returns a bridge that owns the
// connection. When bucket is non-empty, appliance snapshots are written to
// that JetStream key-value bucket, which is created if missing.
func Connect(ctx context.Context, url, bucket string, config Config, opts ...nats.Option) (*Bridge, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if bucket != "" {
		kv, err := snapshotBucket(ctx, conn, bucket)
		if err != nil {
			conn.Close()
			return nil, err
		}
		config.Snapshots = kv
	}

	b := New(conn, config)
	b.closer = func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	b.logger.Info("NATS bridge connected", "url", url, "prefix", b.config.Prefix, "bucket", bucket)
	return b, nil
}

func snapshotBucket(ctx context.Context, conn *nats.Conn, bucket string) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Latest appliance snapshots",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// Attach subscribes the bridge to every event kind on bus.
func (b *Bridge) Attach(bus connection.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bus = bus
	for _, kind := range connection.EventKinds {
		b.subs = append(b.subs, bus.Subscribe(kind, b.forward))
	}
}

// Close detaches the bridge and drains a connection opened by Connect.
func (b *Bridge) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		b.bus.Unsubscribe(sub)
	}
	b.subs = nil
	b.mu.Unlock()

	if b.closer != nil {
		b.closer()
	}
}

// Subject returns the subject events of kind are published on.
func (b *Bridge) Subject(kind connection.EventKind) string {
	return b.config.Prefix + "." + kind.Subject()
}

func (b *Bridge) forward(e connection.Event) {
	payload := Encode(e)
	payload.SessionID = b.config.SessionID

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to marshal event", "kind", e.Kind, "error", err)
		return
	}

	subject := b.Subject(e.Kind)
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish event", "subject", subject, "error", err)
		return
	}
	b.logger.Debug("published event", "subject", subject, "seq", e.Seq)

	if payload.Appliance != nil && b.config.Snapshots != nil {
		b.storeSnapshot(payload.Appliance)
	}
}

func (b *Bridge) storeSnapshot(s *Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.config.Snapshots.Put(ctx, snapshotKey(s.ID), data); err != nil {
		b.logger.Warn("failed to store appliance snapshot", "appliance_id", s.ID, "error", err)
	}
}

// snapshotKey maps an appliance id to a valid KV key: only [-/_=.a-zA-Z0-9],
// not empty, and no leading or trailing dot.
func snapshotKey(id string) string {
	key := []byte(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-/_=.", r):
			return r
		default:
			return '_'
		}
	}, id))
	if len(key) == 0 {
		return "_"
	}
	if key[0] == '.' {
		key[0] = '_'
	}
	if key[len(key)-1] == '.' {
		key[len(key)-1] = '_'
	}
	return string(key)
}

// Encode converts a bus event to its JSON payload.
func Encode(e connection.Event) Payload {
	p := Payload{
		Kind: e.Kind.Subject(),
		Seq:  e.Seq,
		Time: e.Time,
	}
	if e.StateChange != nil {
		p.OldState = e.StateChange.Old.String()
		p.NewState = e.StateChange.New.String()
	}
	if e.Appliance != nil {
		p.Appliance = snapshotOf(e.Appliance)
	}
	return p
}

func snapshotOf(a *appliance.Appliance) *Snapshot {
	return &Snapshot{
		ID:          a.ID(),
		Type:        a.Type(),
		Available:   a.Available(),
		Initialized: a.Initialized(),
		Values:      a.Values(),
	}
}
