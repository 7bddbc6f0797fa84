package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erdlink/erdlink-go/pkg/appliance"
	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/log"
)

// Supervisor owns the session lifecycle: it logs in, drives the transport,
// and reconnects after transient failures until the retry budget is spent
// or a disconnect is requested.
type Supervisor struct {
	config     Config
	auth       Authenticator
	transport  Transport
	bus        *Bus
	appliances *appliance.Registry
	backoff    *Backoff
	logger     *slog.Logger
	plog       log.Logger
	sessionID  string

	// disconnectMu serializes Disconnect so Teardown runs once.
	disconnectMu sync.Mutex

	mu                  sync.Mutex
	state               State
	retries             int
	everConnected       bool
	creds               auth.Credentials
	hasCreds            bool
	disconnectRequested bool
	wake                chan struct{}
	cancelRun           context.CancelFunc
}

// NewSupervisor creates a supervisor in the INITIALIZING state.
func NewSupervisor(cfg Config, authn Authenticator, transport Transport) (*Supervisor, error) {
	if authn == nil {
		return nil, fmt.Errorf("%w: authenticator is required", ErrInvalidConfig)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("session_id", cfg.SessionID)

	plog := cfg.ProtocolLogger
	if plog == nil {
		plog = log.NoopLogger{}
	}

	s := &Supervisor{
		config:     cfg,
		auth:       authn,
		transport:  transport,
		bus:        NewBus(logger),
		appliances: appliance.NewRegistry(),
		backoff:    cfg.backoff(),
		logger:     logger,
		plog:       plog,
		sessionID:  cfg.SessionID,
		state:      StateInitializing,
		retries:    -1,
		wake:       make(chan struct{}),
	}
	s.bus.init = s.registerInternal
	s.registerInternal(s.bus)
	return s, nil
}

// registerInternal derives CONNECTED and DISCONNECTED events from state
// changes.
func (s *Supervisor) registerInternal(b *Bus) {
	b.Subscribe(EventStateChanged, func(e Event) {
		switch e.StateChange.New {
		case StateConnected:
			b.Publish(ConnectedEvent())
		case StateDisconnected:
			b.Publish(DisconnectedEvent())
		}
	})
}

// Events returns the bus observers subscribe to.
func (s *Supervisor) Events() *Bus {
	return s.bus
}

// SessionID returns the session identifier used in protocol captures.
func (s *Supervisor) SessionID() string {
	return s.sessionID
}

// Appliances returns the appliances seen during this session.
func (s *Supervisor) Appliances() *appliance.Registry {
	return s.appliances
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retries returns the retry counter; -1 means no failed cycle since the
// last confirmed connection.
func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Connected reports whether the session has not been shut down.
func (s *Supervisor) Connected() bool {
	st := s.State()
	return st != StateDisconnecting && st != StateDisconnected
}

// Available reports whether a connection is currently confirmed.
func (s *Supervisor) Available() bool {
	return s.State() == StateConnected
}

// UserID returns the account id from the last successful login.
func (s *Supervisor) UserID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCreds {
		return "", ErrNotAuthenticated
	}
	return s.creds.UserID, nil
}

// Login runs a full login and stores the credentials.
func (s *Supervisor) Login(ctx context.Context) error {
	if _, err := s.setState(StateAuthorizingOAuth, "full login"); err != nil {
		return err
	}

	creds, err := s.auth.FullLogin(ctx)
	s.captureAuth(log.AuthFlowFull, creds, err)
	if err != nil {
		s.logger.Error("full login failed", "error", err)
		return fmt.Errorf("full login: %w", err)
	}

	s.storeCredentials(creds)
	s.logger.Info("logged in", "user_id", creds.UserID, "expiry", creds.Expiry)
	return nil
}

// LoginAndRun logs in and runs the session until it ends. If login fails
// the session is disconnected and the login error returned.
func (s *Supervisor) LoginAndRun(ctx context.Context) error {
	if err := s.Login(ctx); err != nil {
		s.Disconnect()
		return err
	}
	s.Run(ctx)
	return nil
}

// Run drives the transport until a disconnect is requested, ctx is
// cancelled, the retry budget is exhausted, or a fatal error occurs. It
// always ends in DISCONNECTED.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		s.logger.Warn("run called on a disconnected session")
		return
	}
	s.disconnectRequested = false
	s.wake = make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	hasCreds := s.hasCreds
	s.mu.Unlock()

	defer cancel()
	defer s.Disconnect()

	if !hasCreds {
		s.logger.Error("run called before a successful login")
		s.captureError(ErrNotAuthenticated, true, "run")
		return
	}

	s.logger.Info("session started", "max_retries", s.config.MaxRetries)

	for !s.stopping(ctx) {
		if retries := s.Retries(); retries > s.config.MaxRetries {
			s.logger.Warn("retry budget exhausted", "retries", retries)
			break
		}

		err := s.transport.Drive(ctx, s.credentials(), s)
		if err != nil && ctx.Err() != nil {
			// Disconnect or cancellation ended the drive.
			err = nil
		}
		if err != nil {
			if s.firstAttempt() {
				s.logger.Error("initial connection failed", "error", err)
				s.captureError(err, true, "drive")
				s.setState(StateDropped, "initial connection failed")
				break
			}
			s.logger.Warn("connection lost", "error", err)
			s.captureError(err, false, "drive")
		}

		s.setState(StateDropped, dropReason(err))

		if !s.stopping(ctx) {
			s.setState(StateWaiting, "")
			delay := s.backoff.Next()
			s.logger.Info("reconnecting", "delay", delay, "attempt", s.backoff.Attempts(), "retries", s.Retries())

			if s.sleep(ctx, delay) && !s.reauthorize(ctx) {
				break
			}
		}

		s.mu.Lock()
		s.retries++
		s.mu.Unlock()
	}

	s.logger.Info("session loop ended", "retries", s.Retries())
}

// Disconnect tears the session down. Once DISCONNECTED, further calls
// do nothing.
func (s *Supervisor) Disconnect() {
	s.disconnectMu.Lock()
	defer s.disconnectMu.Unlock()

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.disconnectRequested = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("disconnecting")
	s.setState(StateDisconnecting, "disconnect requested")

	s.mu.Lock()
	s.disconnectRequested = true
	select {
	case <-s.wake:
	default:
		close(s.wake)
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()

	s.transport.Teardown()
	s.setState(StateDisconnected, "")
}

// SetConnected confirms the transport connection. It is the only place
// the retry counter is reset.
func (s *Supervisor) SetConnected() {
	s.mu.Lock()
	s.retries = -1
	s.everConnected = true
	s.mu.Unlock()

	s.backoff.Reset()
	s.setState(StateConnected, "")
}

// Appliance returns the appliance with id, creating it on first use.
func (s *Supervisor) Appliance(id string) *appliance.Appliance {
	a, created := s.appliances.GetOrCreate(id)
	if created {
		s.logger.Debug("appliance discovered", "appliance_id", id)
	}
	return a
}

// ApplianceUpdated applies changes to a and publishes
// EventApplianceInitialUpdate the first time a's type attribute arrives.
func (s *Supervisor) ApplianceUpdated(a *appliance.Appliance, changes map[string]string) {
	a.Update(changes)

	if _, ok := changes[appliance.AttrApplianceType]; !ok {
		return
	}
	if !a.MarkInitialized() {
		return
	}

	s.logger.Info("appliance initialized", "appliance", a.String())
	s.capture(log.Event{
		Layer:       log.LayerSession,
		Category:    log.CategoryAppliance,
		ApplianceID: a.ID(),
		Appliance:   &log.ApplianceEvent{Initialized: true, Type: a.Type()},
	})
	s.bus.Publish(ApplianceInitialUpdateEvent(a))
}

// SetApplianceAvailability records a's reachability and publishes an
// availability event when it changed.
func (s *Supervisor) SetApplianceAvailability(a *appliance.Appliance, available bool) {
	if !a.SetAvailable(available) {
		return
	}

	s.logger.Info("appliance availability changed", "appliance_id", a.ID(), "available", available)
	s.capture(log.Event{
		Layer:       log.LayerSession,
		Category:    log.CategoryAppliance,
		ApplianceID: a.ID(),
		Appliance:   &log.ApplianceEvent{Available: &available},
	})
	s.bus.Publish(ApplianceAvailabilityEvent(a, available))
}

// setState moves the state machine to next and publishes the change.
// It reports false without error when next is already the current state.
func (s *Supervisor) setState(next State, reason string) (bool, error) {
	s.mu.Lock()
	old := s.state
	if old == next {
		s.mu.Unlock()
		return false, nil
	}
	if !old.CanTransition(next) {
		s.mu.Unlock()
		level := slog.LevelWarn
		if old == StateDisconnecting || old == StateDisconnected {
			level = slog.LevelDebug
		}
		s.logger.Log(context.Background(), level, "rejected state transition", "from", old, "to", next)
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, next)
	}
	s.state = next
	retries := s.retries
	s.mu.Unlock()

	s.logger.Debug("state changed", "from", old, "to", next)
	s.capture(log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: next.String(),
			Retries:  retries,
			Reason:   reason,
		},
	})
	s.bus.Publish(StateChangedEvent(old, next))
	return true, nil
}

// reauthorize refreshes the login before the next attempt. It reports
// false when the run loop must end.
func (s *Supervisor) reauthorize(ctx context.Context) bool {
	if s.stopping(ctx) {
		return false
	}
	err := s.refresh(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrInvalidTransition):
		// Lost a race with Disconnect.
		s.logger.Debug("refresh skipped", "error", err)
	default:
		s.logger.Error("refresh login failed", "error", err, "fatal", auth.IsFatal(err))
	}
	return false
}

func (s *Supervisor) refresh(ctx context.Context) error {
	if _, err := s.setState(StateAuthorizingOAuth, "refresh login"); err != nil {
		return err
	}

	creds, err := s.auth.RefreshLogin(ctx, s.credentials())
	s.captureAuth(log.AuthFlowRefresh, creds, err)
	if err != nil {
		return fmt.Errorf("refresh login: %w", err)
	}
	s.storeCredentials(creds)
	return nil
}

// sleep waits for d. It returns false when interrupted by ctx or Disconnect.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	wake := s.wake
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-wake:
		return false
	}
}

func (s *Supervisor) stopping(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectRequested || ctx.Err() != nil
}

func (s *Supervisor) firstAttempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries == -1 && !s.everConnected
}

func (s *Supervisor) credentials() auth.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *Supervisor) storeCredentials(creds auth.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.hasCreds = true
}

func (s *Supervisor) capture(e log.Event) {
	e.Timestamp = time.Now()
	e.SessionID = s.sessionID
	s.plog.Log(e)
}

func (s *Supervisor) captureAuth(flow log.AuthFlow, creds auth.Credentials, err error) {
	s.capture(log.Event{
		Layer:    log.LayerAuth,
		Category: log.CategoryAuth,
		Auth:     &log.AuthEvent{Flow: flow, Success: err == nil, Expiry: creds.Expiry},
	})
	if err != nil {
		s.captureError(err, true, flow.String())
	}
}

func (s *Supervisor) captureError(err error, fatal bool, where string) {
	layer := log.LayerSession
	switch {
	case errors.Is(err, ErrTransport):
		layer = log.LayerTransport
	case auth.IsFatal(err):
		layer = log.LayerAuth
	}
	s.capture(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Fatal:   fatal,
			Context: where,
		},
	})
}

func dropReason(err error) string {
	if err == nil {
		return "transport closed"
	}
	return err.Error()
}

var _ Link = (*Supervisor)(nil)
