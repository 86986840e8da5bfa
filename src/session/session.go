// Package session implements the per-connection login state machine:
// Init → LoginSent → (LoginOk|LoginSuspect|LoginClosed)
// → Muted/Unmuted. Session holds a non-owning back-reference to the
// Provider's item-stream directory under one-way ownership: Provider
// owns Sessions, Session only reads the shared directory and bumps
// counters.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"marketpsych-feed/src/fabric"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
)

// State is the session's login state.
type State int

const (
	StateInit State = iota
	StateLoginSent
	StateLoginOk
	StateLoginSuspect
	StateLoginClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateLoginSent:
		return "LoginSent"
	case StateLoginOk:
		return "LoginOk"
	case StateLoginSuspect:
		return "LoginSuspect"
	case StateLoginClosed:
		return "LoginClosed"
	default:
		return "Unknown"
	}
}

// Directory is the subset of Provider's item-stream directory a
// Session needs to walk on unmute, to re-issue tokens, plus the
// service directory a Session submits over its own connection on
// LoginOk. ServiceDirectoryFrame returns an opaque, JSON-marshalable value
// so this package need not depend on the provider's concrete type.
type Directory interface {
	Streams() []*models.ItemStream
	ServiceDirectoryFrame() interface{}
}

// -----------------------------------------------------------------------------

// Session owns one wire connection and its login state. The mute flag
// and token slots are written only from the event-pump goroutine and
// read from the scheduler/publish goroutine; Unmuted is
// published with atomic.Bool so the happens-before edge required
// (token writes visible before Unmuted observed) holds
// without an explicit lock on the hot read path.
type Session struct {
	log    *logger.Logger
	cfg    models.SessionConfig
	index  int
	dir    Directory

	mu    sync.Mutex
	state State
	conn  *fabric.Conn

	unmuted atomic.Bool

	cmdErrors   atomic.Int64
	discarded   atomic.Int64
	rwfMajor    atomic.Int32
	rwfMinor    atomic.Int32
}

// New creates a Session bound to its position index in the Provider's
// fixed-order session list and the Provider's item-stream directory.
func New(cfg models.SessionConfig, index int, dir Directory) *Session {
	return &Session{
		log:   logger.New(fmt.Sprintf("session.%s", cfg.SessionName)),
		cfg:   cfg,
		index: index,
		dir:   dir,
		state: StateInit,
	}
}

// Index returns this session's fixed position (used by Provider to
// index stream.Tokens).
func (s *Session) Index() int { return s.index }

// -----------------------------------------------------------------------------

// Login dials the configured servers, sends the login request, and
// starts the event-pump goroutine that drives the rest of the state
// machine. A staggered jitter delay precedes the dial so that
// a bulk reconnect of many sessions does not present as a single
// synchronized burst.
func (s *Session) Login(ctx context.Context) error {
	jitter := time.Duration(rand.Intn(250)) * time.Millisecond * time.Duration(s.index+1)
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return ctx.Err()
	}

	conn, err := fabric.Dial(ctx, s.cfg.SessionName, s.cfg.Servers, s.cfg.DefaultPort)
	if err != nil {
		return fmt.Errorf("session %s: dial failed: %w", s.cfg.SessionName, err)
	}
	if !conn.VerifyVersion() {
		conn.Close()
		return fmt.Errorf("session %s: version verification failed", s.cfg.SessionName)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateLoginSent
	s.mu.Unlock()

	if err := conn.RegisterLogin(s.cfg.UserName, s.cfg.ApplicationID, s.cfg.InstanceID, s.cfg.Position); err != nil {
		return fmt.Errorf("session %s: login request failed: %w", s.cfg.SessionName, err)
	}

	go s.pump(ctx, conn)
	return nil
}

// -----------------------------------------------------------------------------

// pump is the event-pump thread for this session: it
// blocks on the wire connection's event channel and dispatches each
// inbound event into the state machine.
func (s *Session) pump(ctx context.Context, conn *fabric.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				s.onClosed()
				return
			}
			switch {
			case ev.Login != nil:
				s.onLoginEvent(ev.Login)
			case ev.Error != nil:
				s.onCmdError(ev.Error)
			default:
				s.discarded.Add(1)
			}
		}
	}
}

// onLoginEvent handles an inbound MMT_LOGIN response.
func (s *Session) onLoginEvent(lr *fabric.LoginResponse) {
	switch {
	case lr.StreamState == "Open" && lr.DataState == "Ok":
		s.rwfMajor.Store(int32(lr.MajorVer))
		s.rwfMinor.Store(int32(lr.MinorVer))
		s.transition(StateLoginOk)
		s.submitDirectory()
		s.ResetTokens()
		s.unmuted.Store(true)
		s.log.Info("login ok, unmuted")

	case lr.StreamState == "Open" && lr.DataState == "Suspect":
		s.transition(StateLoginSuspect)
		s.unmuted.Store(false)
		s.log.Warning("login suspect, muted (tokens retained)")

	case lr.StreamState == "Closed":
		s.transition(StateLoginClosed)
		s.unmuted.Store(false)
		s.discardTokens()
		s.log.Warning("login closed, muted (tokens discarded)")

	default:
		s.discarded.Add(1)
	}
}

func (s *Session) onCmdError(ce *fabric.CmdError) {
	s.cmdErrors.Add(1)
	s.log.Error("command error: %s", ce.Text)
}

func (s *Session) onClosed() {
	s.transition(StateLoginClosed)
	s.unmuted.Store(false)
	s.discardTokens()
	s.log.Warning("connection closed, muted (tokens discarded)")
}

func (s *Session) transition(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

// submitDirectory builds and ships the provider-wide service
// directory over this session's own connection, submitted with this
// session's just-stored RWF version already folded into the
// provider's minimum-across-sessions recomputation.
func (s *Session) submitDirectory() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SubmitDirectory(s.dir.ServiceDirectoryFrame()); err != nil {
		s.log.Error("service directory submit failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// ResetTokens walks every stream in the Provider's directory and
// re-issues this session's token slot. It is idempotent: the token
// written is the stream's ric itself, so calling it twice in a row
// (e.g. a duplicate LoginOk) produces the same mapping.
func (s *Session) ResetTokens() {
	for _, stream := range s.dir.Streams() {
		if s.index >= len(stream.Tokens) {
			continue
		}
		stream.Tokens[s.index] = stream.RIC // placeholder token: the ric itself, reissued verbatim
	}
}

func (s *Session) discardTokens() {
	for _, stream := range s.dir.Streams() {
		if s.index >= len(stream.Tokens) {
			continue
		}
		stream.Tokens[s.index] = nil
	}
}

// -----------------------------------------------------------------------------

// Unmuted reports the current mute state, read with the
// happens-before guarantee the atomic.Bool load provides relative to
// the token-array writes that precede it in onLoginEvent.
func (s *Session) Unmuted() bool {
	return s.unmuted.Load()
}

// Submit ships one refresh message through this session's
// connection, carrying the given token. A no-op when the session is
// not Unmuted.
func (s *Session) Submit(msg models.RefreshMessage, token models.Token) error {
	if !s.Unmuted() {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Submit(token, msg)
}

// State returns the current login state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RWFVersion returns the advertised wire-format major/minor this
// session negotiated at login, feeding into the Provider-wide minimum.
func (s *Session) RWFVersion() (major, minor int) {
	return int(s.rwfMajor.Load()), int(s.rwfMinor.Load())
}

// CmdErrors returns the cumulative command-error counter.
func (s *Session) CmdErrors() int64 { return s.cmdErrors.Load() }

// Close releases the wire connection.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
