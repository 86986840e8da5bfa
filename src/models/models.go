// Package models holds the shared data types flowing between every
// component of the feed handler: the validated configuration
// objects, the parsed bulletin table, and the provider-side item
// stream directory.
package models

import "time"

// -----------------------------------------------------------------------------
// Resource
// -----------------------------------------------------------------------------

// Item pairs a downstream instrument name with an opaque diagnostic
// topic for one sector row of a Resource.
type Item struct {
	RIC   string
	Topic string
}

// Resource is one fetch target: a URL, its field dictionary, and its
// row-key-to-item map. Immutable after Config.Validate succeeds.
type Resource struct {
	Name            string
	Source          string
	URL             string
	EntitlementCode uint32
	// DACSID overrides the service-wide default DACS id for this
	// resource. Nil means "use ServiceConfig.DefaultDACSID".
	DACSID *uint32

	// Fields maps a bulletin column label to its downstream field id.
	Fields map[string]int32
	// Items maps a bulletin row key ("sector") to the item it publishes to.
	Items map[string]Item
}

// -----------------------------------------------------------------------------
// Session config
// -----------------------------------------------------------------------------

// SessionConfig describes one downstream fabric connection.
type SessionConfig struct {
	SessionName    string
	ConnectionName string
	PublisherName  string
	Servers        []string // ordered hostnames/IPs, first reachable wins
	DefaultPort    int
	ApplicationID  string
	InstanceID     string
	UserName       string
	Position       string
}

// -----------------------------------------------------------------------------
// ItemStream
// -----------------------------------------------------------------------------

// Token is an opaque per-session handle issued by the downstream
// fabric once a session logs in. A nil token means the owning
// session has not (yet, or no longer) unmuted.
type Token interface{}

// ItemStream is owned by the Provider. The publisher mapper keeps no
// table of streams of its own: it looks each row's stream up by ric
// (Provider.Lookup, else Provider.CreateItemStream).
type ItemStream struct {
	RIC    string
	Tokens []Token // len(Tokens) == number of sessions
}

// -----------------------------------------------------------------------------
// Parsed bulletin
// -----------------------------------------------------------------------------

// Row is one sector's worth of parsed metric values, in column order
// (column 0, the row-key label, is not included in Values).
type Row struct {
	Key    string
	Values []float64
}

// Table is the parser's output: the engine version, the bulletin's
// coverage window, the metric column labels (column 0's label is kept
// here but never used as a numeric column), and the parsed rows in
// file order.
type Table struct {
	EngineVersion string
	OpenTime      time.Time
	CloseTime     time.Time
	Columns       []string
	Rows          []Row
}

// -----------------------------------------------------------------------------
// Refresh message
// -----------------------------------------------------------------------------

// FieldKind distinguishes how a FieldValue should be encoded on the
// wire; the real wire library has a much richer type system, but the
// publisher mapper only ever needs these three shapes.
type FieldKind int

const (
	KindASCII FieldKind = iota
	KindRMTES
	KindInt64
)

// FieldValue is one bound field of a refresh message. For KindInt64,
// Blank=true means "bind a blank value" (the NaN case);
// Mantissa/Exponent are only meaningful when Blank is false.
type FieldValue struct {
	ID       int32
	Kind     FieldKind
	Str      string
	Mantissa int64
	Exponent int32
	Blank    bool
}

// Well-known field ids.
const (
	FieldStockRIC  int32 = 1026
	FieldSFName    int32 = 1686
	FieldEngineVer int32 = 8569
	FieldTimestamp int32 = 6378
)

// RefreshMessage is one unsolicited "image" refresh: an
// opaque permission lock, the bound field list, and the item stream
// it targets (used by Provider.Send to look up per-session tokens).
type RefreshMessage struct {
	Stream *ItemStream
	Fields []FieldValue
	Lock   []byte // nil means unlocked
}

// -----------------------------------------------------------------------------
// Scalar timing/transport knobs
// -----------------------------------------------------------------------------

// ServiceConfig carries the process-wide scalar knobs, filled in once
// at init by the config package from the YAML service section.
type ServiceConfig struct {
	Interval            time.Duration
	TolerableDelay       time.Duration
	RetryCount           int
	RetryDelayMS          int
	RetryTimeoutMS        int
	TimeoutMS             int
	ConnectTimeoutMS      int
	EnableHTTPPipelining  bool
	MaximumResponseSize   int64
	MinimumResponseSize   int64
	RequestHTTPEncoding   string // identity|deflate|gzip
	TimeOffsetConstant    string // HH:MM:SS
	PanicThreshold        time.Duration // 0 disables
	HTTPProxy             string
	DNSCacheTimeout       time.Duration
	BaseURL               string
	DefaultDACSID         *uint32
	ServiceName           string
	VendorName            string
	MonitorName           string
	EventQueueName        string
	KeepAlive             bool
	IfModifiedSince       bool
}
