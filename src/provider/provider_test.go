package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketpsych-feed/src/models"
	"marketpsych-feed/src/session"
)

func TestCreateItemStreamDedupesByRIC(t *testing.T) {
	p := New("svc", "vendor", nil)

	s1 := p.CreateItemStream("MP.1679")
	s2 := p.CreateItemStream("MP.1679")

	assert.Same(t, s1, s2)
	assert.Len(t, p.Streams(), 1)
}

func TestLookupReportsMissingStream(t *testing.T) {
	p := New("svc", "vendor", nil)
	_, ok := p.Lookup("MP.9999")
	assert.False(t, ok)
}

func TestBuildServiceDirectoryFixedShape(t *testing.T) {
	p := New("svc1", "vendor1", nil)
	dir := p.BuildServiceDirectory()

	assert.Equal(t, "svc1", dir.ServiceName)
	assert.Equal(t, []int{CapabilityMarketPrice}, dir.Info.Capabilities)
	assert.Equal(t, []string{"RWFFld", "RWFEnum"}, dir.Info.Dictionaries)
	assert.Equal(t, "realTime", dir.Info.QoS.Timeliness)
	assert.Equal(t, "tickByTick", dir.Info.QoS.Rate)
	assert.Equal(t, ServiceStateUp, dir.State.ServiceState)
}

func TestNegotiatedVersionIgnoresUnloggedSessions(t *testing.T) {
	p := New("svc", "vendor", nil)
	// a session that has never logged in reports (0, 0)
	p.sessions = append(p.sessions, session.New(models.SessionConfig{SessionName: "s1"}, 0, p))
	major, minor := p.NegotiatedVersion()
	assert.Equal(t, 0, major)
	assert.Equal(t, 0, minor)
}
