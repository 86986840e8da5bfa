package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpsych-feed/src/fetch"
	"marketpsych-feed/src/lifecycle"
	"marketpsych-feed/src/models"
	"marketpsych-feed/src/parser"
	"marketpsych-feed/src/publish"
)

type stubProvider struct {
	sent atomic.Int32
}

func (s *stubProvider) Lookup(ric string) (*models.ItemStream, bool) { return nil, false }
func (s *stubProvider) CreateItemStream(ric string) *models.ItemStream {
	return &models.ItemStream{RIC: ric}
}
func (s *stubProvider) Send(msg models.RefreshMessage) int { s.sent.Add(1); return 1 }

func testResource(url string) models.Resource {
	return models.Resource{
		Name:   "res1",
		Source: "psych",
		URL:    url,
		Fields: map[string]int32{"Buzz": 7001},
		Items:  map[string]models.Item{"1679": {RIC: "MP.1679"}},
	}
}

// magic mismatch yields zero refreshes and http_malformed += 1.
func TestEngineRunCycleMagicMismatchProducesNoRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("HELLO world this is not a bulletin body at all"))
	}))
	defer srv.Close()

	prov := &stubProvider{}
	mapper := publish.New(prov, nil)
	p := parser.New("test")
	fetchCtrs := fetch.NewCounters()
	fetcher := fetch.New(fetch.Config{
		MaxResponseSize: 1024,
		MinResponseSize: 4,
		RetryCount:      0,
		RetryTimeoutMS:  100,
	}, fetchCtrs)

	counters := lifecycle.NewCounters()
	eng := New(fetcher, p, mapper, []models.Resource{testResource(srv.URL)}, counters, fetchCtrs)

	eng.RunCycle(context.Background())

	assert.Equal(t, int32(0), prov.sent.Load())
	snap := fetchCtrs.Snapshot()
	assert.Equal(t, int64(1), snap[fetch.ResultMalformed])
}

// first fetch 503, second 200 with valid body -> exactly one refresh.
func TestEngineRunCycleRetryThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	body := "# MarketPsych Engine Version 3.2 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\n1679\t0.1\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	prov := &stubProvider{}
	mapper := publish.New(prov, nil)
	p := parser.New("test")
	fetchCtrs := fetch.NewCounters()
	fetcher := fetch.New(fetch.Config{
		MaxResponseSize: 1024,
		MinResponseSize: 4,
		RetryCount:      3,
		RetryDelayMS:    10,
		RetryTimeoutMS:  5000,
	}, fetchCtrs)

	counters := lifecycle.NewCounters()
	eng := New(fetcher, p, mapper, []models.Resource{testResource(srv.URL)}, counters, fetchCtrs)

	eng.RunCycle(context.Background())

	require.Equal(t, int32(1), prov.sent.Load())
	snap := fetchCtrs.Snapshot()
	assert.Equal(t, int64(1), snap[fetch.Result5xx])
	assert.Equal(t, int32(2), attempts.Load())

	time.Sleep(time.Millisecond) // let any stray goroutines settle before srv.Close()
}
