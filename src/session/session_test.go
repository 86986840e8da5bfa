package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketpsych-feed/src/models"
)

type stubDirectory struct {
	streams []*models.ItemStream
}

func (d *stubDirectory) Streams() []*models.ItemStream { return d.streams }
func (d *stubDirectory) ServiceDirectoryFrame() interface{} { return nil }

func TestResetTokensIsIdempotent(t *testing.T) {
	stream := &models.ItemStream{RIC: "MP.1679", Tokens: make([]models.Token, 2)}
	dir := &stubDirectory{streams: []*models.ItemStream{stream}}

	s := New(models.SessionConfig{SessionName: "s1"}, 0, dir)

	s.ResetTokens()
	first := stream.Tokens[0]
	assert.NotNil(t, first)

	s.ResetTokens()
	second := stream.Tokens[0]
	assert.Equal(t, first, second)
}

func TestDiscardTokensClearsOnlyOwnSlot(t *testing.T) {
	stream := &models.ItemStream{RIC: "MP.1679", Tokens: []models.Token{"other-token", "my-token"}}
	dir := &stubDirectory{streams: []*models.ItemStream{stream}}

	s := New(models.SessionConfig{SessionName: "s1"}, 1, dir)
	s.discardTokens()

	assert.Equal(t, "other-token", stream.Tokens[0])
	assert.Nil(t, stream.Tokens[1])
}

func TestUnmutedDefaultsFalse(t *testing.T) {
	s := New(models.SessionConfig{SessionName: "s1"}, 0, &stubDirectory{})
	assert.False(t, s.Unmuted())
}

func TestSubmitIsNoOpWhenMuted(t *testing.T) {
	s := New(models.SessionConfig{SessionName: "s1"}, 0, &stubDirectory{})
	err := s.Submit(models.RefreshMessage{}, "token")
	assert.NoError(t, err)
}
