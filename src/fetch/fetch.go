// Package fetch implements the concurrent multi-URL carousel fetcher:
// every pending Resource is requested concurrently on
// each pass; responses are classified, accepted responses leave the
// pending set, and the carousel retries (fixed delay when
// retry_delay_ms is set, doubling backoff otherwise) until the pending
// set is empty or the retry budget is exhausted.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
)

// Magic is the literal four-byte prefix that identifies a
// well-formed bulletin.
var Magic = []byte{'#', ' ', 'M', 'a'}

// -----------------------------------------------------------------------------
// Connection — per-resource, per-cycle state
// -----------------------------------------------------------------------------

// Connection is the per-resource, per-cycle state the fetcher owns.
// LastFiletime persists across cycles, kept only in memory;
// everything else resets every tick.
type Connection struct {
	Resource     models.Resource
	RequestTime  time.Time
	HTTPDTime    time.Time
	Filetime     int64 // seconds since epoch, from Last-Modified, else the local clock at response time
	LastFiletime int64
	Data         []byte
	Err          error

	httpStatus  int
	contentType string
}

// Result classifies one completed attempt for counters.
type Result int

const (
	ResultAccepted Result = iota
	Result1xx
	Result2xxRejected
	Result3xx
	Result304
	Result4xx
	Result5xx
	ResultMalformed
	ResultTransportError
)

// Counters is the set of observable side effects the
// fetcher updates once per response.
type Counters struct {
	mu             sync.Mutex
	ByResult       map[Result]int64
	RetriesExceeded int64
	HTTPDOffsetSec  int64
	HTTPOffsetSec   int64
}

func NewCounters() *Counters {
	return &Counters{ByResult: make(map[Result]int64)}
}

func (c *Counters) incr(r Result) {
	c.mu.Lock()
	c.ByResult[r]++
	c.mu.Unlock()
}

func (c *Counters) setOffsets(httpd, http_ int64) {
	c.mu.Lock()
	c.HTTPDOffsetSec = httpd
	c.HTTPOffsetSec = http_
	c.mu.Unlock()
}

// Snapshot returns a copy safe for concurrent reads; the lock is held
// for the snapshot itself to avoid a torn map read.
func (c *Counters) Snapshot() map[Result]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Result]int64, len(c.ByResult))
	for k, v := range c.ByResult {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

type Flag int

const (
	FlagKeepAlive Flag = 1 << iota
	FlagIfModifiedSince
)

// -----------------------------------------------------------------------------
// Fetcher
// -----------------------------------------------------------------------------

type Fetcher struct {
	log      *logger.Logger
	client   *http.Client
	counters *Counters

	retryCount        int
	retryDelayMS      int
	retryTimeoutMS    int
	timeout           time.Duration
	connectTimeout    time.Duration
	maxResponseSize   int64
	minResponseSize   int64
	panicThreshold    time.Duration
	userAgent         string
	requestEncoding   string
	proxyURL          string
	flags             Flag
}

// Config bundles the scalar knobs the fetcher needs out of
// models.ServiceConfig, plus the version string for the user agent.
type Config struct {
	Version           string
	RetryCount        int
	RetryDelayMS      int
	RetryTimeoutMS    int
	TimeoutMS         int
	ConnectTimeoutMS  int
	MaxResponseSize   int64
	MinResponseSize   int64
	PanicThreshold    time.Duration
	RequestEncoding   string
	HTTPProxy         string
	KeepAlive         bool
	IfModifiedSince   bool
}

func New(cfg Config, counters *Counters) *Fetcher {
	flags := Flag(0)
	if cfg.KeepAlive {
		flags |= FlagKeepAlive
	}
	if cfg.IfModifiedSince {
		flags |= FlagIfModifiedSince
	}

	f := &Fetcher{
		log:             logger.New("fetcher"),
		counters:        counters,
		retryCount:      cfg.RetryCount,
		retryDelayMS:    cfg.RetryDelayMS,
		retryTimeoutMS:  cfg.RetryTimeoutMS,
		timeout:         time.Duration(cfg.TimeoutMS) * time.Millisecond,
		connectTimeout:  time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		maxResponseSize: cfg.MaxResponseSize,
		minResponseSize: cfg.MinResponseSize,
		panicThreshold:  cfg.PanicThreshold,
		userAgent:       fmt.Sprintf("psych/%s", cfg.Version),
		requestEncoding: cfg.RequestEncoding,
		proxyURL:        cfg.HTTPProxy,
		flags:           flags,
	}
	f.client = f.newClient()
	return f
}

func (f *Fetcher) newClient() *http.Client {
	dialer := &net.Dialer{Timeout: f.connectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// IPv4 only.
			return dialer.DialContext(ctx, "tcp4", addr)
		},
		DisableKeepAlives: f.flags&FlagKeepAlive == 0,
	}
	if f.proxyURL != "" {
		if u, err := url.Parse(f.proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   f.timeout,
	}
}

// -----------------------------------------------------------------------------

// Run executes the carousel retry algorithm over the given
// connections, invoking onAccepted for every response that passes all
// gates. It returns once the pending set is empty or the retry budget
// is exhausted.
func (f *Fetcher) Run(ctx context.Context, conns []*Connection, onAccepted func(*Connection)) {
	start := time.Now()
	pending := conns
	retriesLeft := f.retryCount
	sleepMS := f.retryDelayMS
	if sleepMS <= 0 {
		sleepMS = 1000
	}

	for {
		f.fetchAll(ctx, pending)

		var stillPending []*Connection
		for _, c := range pending {
			result := f.classify(c)
			f.counters.incr(result)
			if result == ResultAccepted {
				c.LastFiletime = c.Filetime
				onAccepted(c)
				continue
			}
			stillPending = append(stillPending, c)
		}
		pending = stillPending

		if len(pending) == 0 {
			return
		}

		elapsed := time.Since(start)
		if retriesLeft <= 0 || elapsed.Milliseconds() >= int64(f.retryTimeoutMS) {
			f.counters.RetriesExceeded += int64(len(pending))
			f.log.Warning("retries exceeded for %d connection(s)", len(pending))
			return
		}

		select {
		case <-time.After(time.Duration(sleepMS) * time.Millisecond):
		case <-ctx.Done():
			return
		}

		if f.retryDelayMS <= 0 {
			sleepMS *= 2
			if sleepMS > 600000 {
				sleepMS = 600000
			}
		}
		retriesLeft--
	}
}

// -----------------------------------------------------------------------------

func (f *Fetcher) fetchAll(ctx context.Context, conns []*Connection) {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			f.fetchOne(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, c *Connection) {
	c.RequestTime = time.Now().UTC()
	c.Data = nil
	c.Err = nil
	c.Filetime = 0
	c.httpStatus = 0
	c.contentType = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resource.URL, nil)
	if err != nil {
		c.Err = err
		return
	}
	req.Header.Set("User-Agent", f.userAgent)
	if f.requestEncoding != "" && f.requestEncoding != "identity" {
		req.Header.Set("Accept-Encoding", f.requestEncoding)
	}
	if f.flags&FlagIfModifiedSince != 0 && c.LastFiletime > 0 {
		req.Header.Set("If-Modified-Since", time.Unix(c.LastFiletime, 0).UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		c.Err = err
		return
	}
	defer resp.Body.Close()

	c.httpStatus = resp.StatusCode
	c.contentType = resp.Header.Get("Content-Type")

	if dateHdr := resp.Header.Get("Date"); dateHdr != "" {
		if t, err := http.ParseTime(dateHdr); err == nil {
			c.HTTPDTime = t
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			c.Filetime = t.Unix()
		}
	}
	if c.Filetime == 0 {
		c.Filetime = time.Now().UTC().Unix()
	}

	if resp.StatusCode == http.StatusNotModified {
		return
	}

	limited := io.LimitReader(resp.Body, f.maxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		c.Err = err
		return
	}
	c.Data = body
}

// -----------------------------------------------------------------------------

func (f *Fetcher) classify(c *Connection) Result {
	if c.Err != nil {
		return ResultTransportError
	}
	switch {
	case c.httpStatus == http.StatusNotModified:
		return Result304
	case c.httpStatus >= 100 && c.httpStatus < 200:
		return Result1xx
	case c.httpStatus >= 300 && c.httpStatus < 400:
		return Result3xx
	case c.httpStatus >= 400 && c.httpStatus < 500:
		return Result4xx
	case c.httpStatus >= 500:
		return Result5xx
	case c.httpStatus != http.StatusOK:
		return Result2xxRejected
	}

	if !hasPrefix(c.contentType, "text/plain") {
		return ResultMalformed
	}
	if int64(len(c.Data)) < f.minResponseSize || int64(len(c.Data)) > f.maxResponseSize {
		return ResultMalformed
	}
	if !bytes.HasPrefix(c.Data, Magic) {
		return ResultMalformed
	}
	if f.panicThreshold > 0 {
		drift := c.Filetime - c.RequestTime.Unix()
		if drift < 0 {
			drift = -drift
		}
		if time.Duration(drift)*time.Second >= f.panicThreshold {
			f.log.Warning("resource %s: clock-panic, filetime drift %ds exceeds threshold", c.Resource.Name, drift)
			return ResultMalformed
		}
	}

	httpdOffset := int64(0)
	if !c.HTTPDTime.IsZero() {
		httpdOffset = c.HTTPDTime.Unix() - c.RequestTime.Unix()
	}
	httpOffset := c.Filetime - c.RequestTime.Unix()
	f.counters.setOffsets(httpdOffset, httpOffset)

	return ResultAccepted
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
