package fetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestFetcher() *Fetcher {
	return New(Config{
		Version:         "1.0.0",
		MaxResponseSize: 1024,
		MinResponseSize: 4,
	}, NewCounters())
}

func TestClassifyAcceptsWellFormedResponse(t *testing.T) {
	f := newTestFetcher()
	now := time.Now().UTC()
	c := &Connection{
		RequestTime: now,
		Filetime:    now.Unix(),
		Data:        append([]byte{}, Magic...),
	}
	c.httpStatus = http.StatusOK
	c.contentType = "text/plain; charset=utf-8"

	assert.Equal(t, ResultAccepted, f.classify(c))
}

func TestClassifyRejectsMissingMagic(t *testing.T) {
	f := newTestFetcher()
	c := &Connection{Data: []byte("HELLO...")}
	c.httpStatus = http.StatusOK
	c.contentType = "text/plain"

	assert.Equal(t, ResultMalformed, f.classify(c))
}

func TestClassifyRejectsUndersizeBody(t *testing.T) {
	f := newTestFetcher()
	c := &Connection{Data: []byte("#")}
	c.httpStatus = http.StatusOK
	c.contentType = "text/plain"

	assert.Equal(t, ResultMalformed, f.classify(c))
}

func TestClassifyRejectsNon2xxByStatusClass(t *testing.T) {
	f := newTestFetcher()

	tests := []struct {
		status int
		want   Result
	}{
		{101, Result1xx},
		{304, Result304},
		{301, Result3xx},
		{404, Result4xx},
		{503, Result5xx},
	}
	for _, tc := range tests {
		c := &Connection{Data: append([]byte{}, Magic...)}
		c.httpStatus = tc.status
		c.contentType = "text/plain"
		assert.Equal(t, tc.want, f.classify(c), "status %d", tc.status)
	}
}

func TestClassifyRejectsClockPanic(t *testing.T) {
	f := New(Config{
		MaxResponseSize: 1024,
		MinResponseSize: 4,
		PanicThreshold:  10 * time.Second,
	}, NewCounters())

	now := time.Now().UTC()
	c := &Connection{
		RequestTime: now,
		Filetime:    now.Add(time.Hour).Unix(),
		Data:        append([]byte{}, Magic...),
	}
	c.httpStatus = http.StatusOK
	c.contentType = "text/plain"

	assert.Equal(t, ResultMalformed, f.classify(c))
}

func TestClassifyTransportErrorTakesPriority(t *testing.T) {
	f := newTestFetcher()
	c := &Connection{Err: assertErr{}}
	assert.Equal(t, ResultTransportError, f.classify(c))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
