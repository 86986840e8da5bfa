// Package provider owns a fixed-order list of Sessions, exposes
// CreateItemStream and Send, and builds the service directory.
// Ownership is one-way: Provider owns its Sessions; Sessions
// hold only a non-owning Directory back-reference.
package provider

import (
	"context"
	"fmt"
	"sync"

	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
	"marketpsych-feed/src/session"
)

// ServiceState mirrors SERVICE_STATE_ID.ServiceState.
const ServiceStateUp = 1

// Capability is the one capability this provider advertises:
// capabilities is always [6], MarketPrice.
const CapabilityMarketPrice = 6

// QoS mirrors the fixed QoS the service directory advertises.
type QoS struct {
	Timeliness string // "realTime"
	Rate       string // "tickByTick"
}

// ServiceInfo is the SERVICE_INFO_ID filter entry.
type ServiceInfo struct {
	Name         string
	Vendor       string
	Capabilities []int
	Dictionaries []string
	QoS          QoS
	RWFMajor     int
	RWFMinor     int
}

// ServiceStateEntry is the SERVICE_STATE_ID filter entry.
type ServiceStateEntry struct {
	ServiceState int
}

// ServiceDirectory is the one-entry directory keyed by service name.
type ServiceDirectory struct {
	ServiceName string
	Info        ServiceInfo
	State       ServiceStateEntry
}

// -----------------------------------------------------------------------------

// Provider owns N sessions and the process-wide ric→ItemStream
// directory: exactly one ItemStream per distinct ric, shared across
// every resource that names it.
type Provider struct {
	log         *logger.Logger
	serviceName string
	vendorName  string
	counters    *lifecycle.Counters

	sessions []*session.Session

	mu      sync.RWMutex
	streams map[string]*models.ItemStream
	order   []*models.ItemStream
}

// New creates an empty Provider; sessions are attached by Init.
// counters may be nil, in which case publish failures are logged but
// not tallied.
func New(serviceName, vendorName string, counters *lifecycle.Counters) *Provider {
	return &Provider{
		log:         logger.New("provider"),
		serviceName: serviceName,
		vendorName:  vendorName,
		counters:    counters,
		streams:     make(map[string]*models.ItemStream),
	}
}

// -----------------------------------------------------------------------------

// Streams implements session.Directory: the full list of streams
// this Provider owns, in creation order.
func (p *Provider) Streams() []*models.ItemStream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.ItemStream, len(p.order))
	copy(out, p.order)
	return out
}

// ServiceDirectoryFrame implements session.Directory: it wraps
// BuildServiceDirectory so a Session can hand the built directory
// straight to its connection without either package depending on the
// other's concrete types.
func (p *Provider) ServiceDirectoryFrame() interface{} {
	return p.BuildServiceDirectory()
}

// -----------------------------------------------------------------------------

// Init initializes every session (triggering login) and verifies the
// wire-library version. It fails if any session fails to
// initialize.
func (p *Provider) Init(ctx context.Context, sessionCfgs []models.SessionConfig) error {
	p.sessions = make([]*session.Session, 0, len(sessionCfgs))
	for i, cfg := range sessionCfgs {
		p.sessions = append(p.sessions, session.New(cfg, i, p))
	}

	for _, s := range p.sessions {
		if err := s.Login(ctx); err != nil {
			return fmt.Errorf("provider: session %d init failed: %w", s.Index(), err)
		}
	}
	p.log.Info("initialized %d session(s)", len(p.sessions))
	return nil
}

// -----------------------------------------------------------------------------

// CreateItemStream allocates an ItemStream for ric if one does not
// already exist, reserving one token slot per session (nil until each
// session unmutes), and records it in the ric→stream directory.
// If a stream for ric already exists it is returned instead
// of allocating a duplicate, keeping exactly one ItemStream per ric
// process-wide.
func (p *Provider) CreateItemStream(ric string) *models.ItemStream {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.streams[ric]; ok {
		return existing
	}

	stream := &models.ItemStream{
		RIC:    ric,
		Tokens: make([]models.Token, len(p.sessions)),
	}
	for i, s := range p.sessions {
		if s.Unmuted() {
			stream.Tokens[i] = ric
		}
	}
	p.streams[ric] = stream
	p.order = append(p.order, stream)
	return stream
}

// Lookup returns the existing ItemStream for ric, if any.
func (p *Provider) Lookup(ric string) (*models.ItemStream, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.streams[ric]
	return s, ok
}

// -----------------------------------------------------------------------------

// Send dispatches msg to every session via session.Submit, passing
// each session's token slot for msg.Stream. Muted sessions are
// skipped silently; the send still reaches every other unmuted
// session. Returns the number of sessions that were unmuted at send
// time (a submit that fails is logged and counted in publish_errors
// but still included), which the caller folds into msgs_sent: one
// increment per unmuted session, not per row.
func (p *Provider) Send(msg models.RefreshMessage) int {
	if msg.Stream == nil {
		p.log.Warning("refresh with nil stream dropped")
		return 0
	}
	sent := 0
	for i, s := range p.sessions {
		if !s.Unmuted() {
			continue
		}
		var token models.Token
		if i < len(msg.Stream.Tokens) {
			token = msg.Stream.Tokens[i]
		}
		if err := s.Submit(msg, token); err != nil {
			p.log.Error("session %s: submit failed: %v", s.State(), err)
			if p.counters != nil {
				p.counters.PublishErrors.Add(1)
			}
		}
		sent++
	}
	return sent
}

// -----------------------------------------------------------------------------

// BuildServiceDirectory builds the one-entry service directory this
// provider advertises, stamping it with the minimum RWF version
// negotiated across all sessions at the time of the call.
func (p *Provider) BuildServiceDirectory() ServiceDirectory {
	major, minor := p.NegotiatedVersion()
	return ServiceDirectory{
		ServiceName: p.serviceName,
		Info: ServiceInfo{
			Name:         p.serviceName,
			Vendor:       p.vendorName,
			Capabilities: []int{CapabilityMarketPrice},
			Dictionaries: []string{"RWFFld", "RWFEnum"},
			QoS:          QoS{Timeliness: "realTime", Rate: "tickByTick"},
			RWFMajor:     major,
			RWFMinor:     minor,
		},
		State: ServiceStateEntry{ServiceState: ServiceStateUp},
	}
}

// -----------------------------------------------------------------------------

// NegotiatedVersion returns the minimum RWF major/minor advertised
// across all sessions, recomputed on each session login.
// Sessions that have not yet logged in report (0, 0) and are excluded
// until they do.
func (p *Provider) NegotiatedVersion() (major, minor int) {
	first := true
	for _, s := range p.sessions {
		maj, min := s.RWFVersion()
		if maj == 0 && min == 0 {
			continue
		}
		if first || maj < major || (maj == major && min < minor) {
			major, minor = maj, min
			first = false
		}
	}
	return major, minor
}

// Sessions returns the fixed-order session list (read-only use by the
// control surface / lifecycle counters).
func (p *Provider) Sessions() []*session.Session {
	return p.sessions
}

// Close releases every session's connection.
func (p *Provider) Close() error {
	var firstErr error
	for _, s := range p.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
