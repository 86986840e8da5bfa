package config

import (
	"fmt"
	"os"
	"time"

	"marketpsych-feed/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// YAML document shape
// -----------------------------------------------------------------------------

type yamlDoc struct {
	Service   yamlService    `yaml:"service"`
	Resources []yamlResource `yaml:"resources"`
	Sessions  []yamlSession  `yaml:"sessions"`
}

type yamlService struct {
	Interval             int    `yaml:"interval"`
	TolerableDelayMS     int    `yaml:"tolerable_delay"`
	RetryCount           int    `yaml:"retry_count"`
	RetryDelayMS         int    `yaml:"retry_delay_ms"`
	RetryTimeoutMS       int    `yaml:"retry_timeout_ms"`
	TimeoutMS            int    `yaml:"timeout_ms"`
	ConnectTimeoutMS     int    `yaml:"connect_timeout_ms"`
	EnableHTTPPipelining int    `yaml:"enable_http_pipelining"`
	MaximumResponseSize  int64  `yaml:"maximum_response_size"`
	MinimumResponseSize  int64  `yaml:"minimum_response_size"`
	RequestHTTPEncoding  string `yaml:"request_http_encoding"`
	TimeOffsetConstant   string `yaml:"time_offset_constant"`
	PanicThresholdSec    int    `yaml:"panic_threshold"`
	HTTPProxy            string `yaml:"http_proxy"`
	DNSCacheTimeoutSec   int    `yaml:"dns_cache_timeout"`
	BaseURL              string `yaml:"base_url"`
	DACSID               string `yaml:"dacs_id"`
	ServiceName          string `yaml:"service_name"`
	VendorName           string `yaml:"vendor_name"`
	MonitorName          string `yaml:"monitor_name"`
	EventQueueName       string `yaml:"event_queue_name"`
	KeepAlive            bool   `yaml:"keepalive"`
	IfModifiedSince      bool   `yaml:"if_modified_since"`
}

type yamlResource struct {
	Name            string            `yaml:"name"`
	Source          string            `yaml:"source"`
	URL             string            `yaml:"url"`
	EntitlementCode uint32            `yaml:"entitlement_code"`
	DACSID          string            `yaml:"dacs_id"`
	Fields          map[string]int32  `yaml:"fields"`
	Items           map[string][2]string `yaml:"items"`
}

type yamlSession struct {
	SessionName    string   `yaml:"session_name"`
	ConnectionName string   `yaml:"connection_name"`
	PublisherName  string   `yaml:"publisher_name"`
	Servers        []string `yaml:"servers"`
	DefaultPort    int      `yaml:"default_port"`
	ApplicationID  string   `yaml:"application_id"`
	InstanceID     string   `yaml:"instance_id"`
	UserName       string   `yaml:"user_name"`
	Position       string   `yaml:"position"`
}

// -----------------------------------------------------------------------------
// Config — the validated object the core consumes
// -----------------------------------------------------------------------------

// Config is the immutable, validated configuration object the core
// consumes. Loading and parsing raw YAML into this shape stays outside
// the core components; every other component only ever sees a
// *Config that has already passed Validate.
type Config struct {
	Service   models.ServiceConfig
	Resources []models.Resource
	Sessions  []models.SessionConfig
}

// -----------------------------------------------------------------------------

// Load reads and parses a YAML config file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	cfg, err := fromDoc(&doc)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// -----------------------------------------------------------------------------

func fromDoc(doc *yamlDoc) (*Config, error) {
	cfg := &Config{}

	svc := doc.Service
	cfg.Service = models.ServiceConfig{
		Interval:             time.Duration(svc.Interval) * time.Second,
		TolerableDelay:       time.Duration(svc.TolerableDelayMS) * time.Millisecond,
		RetryCount:           svc.RetryCount,
		RetryDelayMS:         svc.RetryDelayMS,
		RetryTimeoutMS:       svc.RetryTimeoutMS,
		TimeoutMS:            svc.TimeoutMS,
		ConnectTimeoutMS:     svc.ConnectTimeoutMS,
		EnableHTTPPipelining: svc.EnableHTTPPipelining != 0,
		MaximumResponseSize:  svc.MaximumResponseSize,
		MinimumResponseSize:  svc.MinimumResponseSize,
		RequestHTTPEncoding:  svc.RequestHTTPEncoding,
		TimeOffsetConstant:   svc.TimeOffsetConstant,
		PanicThreshold:       time.Duration(svc.PanicThresholdSec) * time.Second,
		HTTPProxy:            svc.HTTPProxy,
		DNSCacheTimeout:      time.Duration(svc.DNSCacheTimeoutSec) * time.Second,
		BaseURL:              svc.BaseURL,
		ServiceName:          svc.ServiceName,
		VendorName:           svc.VendorName,
		MonitorName:          svc.MonitorName,
		EventQueueName:       svc.EventQueueName,
		KeepAlive:            svc.KeepAlive,
		IfModifiedSince:      svc.IfModifiedSince,
	}
	if svc.DACSID != "" {
		id, err := parseDACSID(svc.DACSID)
		if err != nil {
			return nil, fmt.Errorf("service dacs_id: %w", err)
		}
		cfg.Service.DefaultDACSID = &id
	}

	for _, r := range doc.Resources {
		items := make(map[string]models.Item, len(r.Items))
		for key, pair := range r.Items {
			items[key] = models.Item{RIC: pair[0], Topic: pair[1]}
		}
		res := models.Resource{
			Name:            r.Name,
			Source:          r.Source,
			URL:             r.URL,
			EntitlementCode: r.EntitlementCode,
			Fields:          r.Fields,
			Items:           items,
		}
		if r.DACSID != "" {
			id, err := parseDACSID(r.DACSID)
			if err != nil {
				return nil, fmt.Errorf("resource %q dacs_id: %w", r.Name, err)
			}
			res.DACSID = &id
		}
		cfg.Resources = append(cfg.Resources, res)
	}

	for _, s := range doc.Sessions {
		cfg.Sessions = append(cfg.Sessions, models.SessionConfig{
			SessionName:    s.SessionName,
			ConnectionName: s.ConnectionName,
			PublisherName:  s.PublisherName,
			Servers:        s.Servers,
			DefaultPort:    s.DefaultPort,
			ApplicationID:  s.ApplicationID,
			InstanceID:     s.InstanceID,
			UserName:       s.UserName,
			Position:       s.Position,
		})
	}

	return cfg, nil
}

func parseDACSID(s string) (uint32, error) {
	var id uint32
	_, err := fmt.Sscanf(s, "%d", &id)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric dacs_id %q: %w", s, err)
	}
	return id, nil
}

// -----------------------------------------------------------------------------
// Validate
// -----------------------------------------------------------------------------

// Validate checks every invariant required before the core is allowed
// to start. Config-invalid errors are fatal at init.
func (c *Config) Validate() error {
	if c.Service.Interval <= 0 {
		return fmt.Errorf("interval must be greater than 0")
	}
	if c.Service.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative")
	}
	if c.Service.MaximumResponseSize <= 0 || c.Service.MinimumResponseSize <= 0 {
		return fmt.Errorf("maximum_response_size and minimum_response_size must be greater than 0")
	}
	if c.Service.MinimumResponseSize > c.Service.MaximumResponseSize {
		return fmt.Errorf("minimum_response_size cannot exceed maximum_response_size")
	}
	switch c.Service.RequestHTTPEncoding {
	case "", "identity", "deflate", "gzip":
	default:
		return fmt.Errorf("invalid request_http_encoding %q", c.Service.RequestHTTPEncoding)
	}
	if c.Service.TimeOffsetConstant == "" {
		return fmt.Errorf("time_offset_constant cannot be empty")
	}
	if _, err := time.Parse("15:04:05", c.Service.TimeOffsetConstant); err != nil {
		return fmt.Errorf("invalid time_offset_constant %q: %w", c.Service.TimeOffsetConstant, err)
	}

	if len(c.Resources) == 0 {
		return fmt.Errorf("at least one resource must be configured")
	}
	seenResourceNames := make(map[string]bool)
	for _, r := range c.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if seenResourceNames[r.Name] {
			return fmt.Errorf("duplicate resource name %q", r.Name)
		}
		seenResourceNames[r.Name] = true

		if r.URL == "" {
			return fmt.Errorf("resource %q: url cannot be empty", r.Name)
		}
		if len(r.Fields) == 0 {
			return fmt.Errorf("resource %q: must have at least one field", r.Name)
		}
		if len(r.Items) == 0 {
			return fmt.Errorf("resource %q: must have at least one item", r.Name)
		}
		seenFieldIDs := make(map[int32]bool)
		for label, fid := range r.Fields {
			if label == "" {
				return fmt.Errorf("resource %q: field with empty column label", r.Name)
			}
			if seenFieldIDs[fid] {
				return fmt.Errorf("resource %q: duplicate field id %d", r.Name, fid)
			}
			seenFieldIDs[fid] = true
		}
		for key, item := range r.Items {
			if key == "" {
				return fmt.Errorf("resource %q: item with empty row key", r.Name)
			}
			if item.RIC == "" {
				return fmt.Errorf("resource %q: item %q has empty ric", r.Name, key)
			}
		}
	}

	if len(c.Sessions) == 0 {
		return fmt.Errorf("at least one session must be configured")
	}
	seenSessionNames := make(map[string]bool)
	for _, s := range c.Sessions {
		if s.SessionName == "" {
			return fmt.Errorf("session with empty session_name")
		}
		if seenSessionNames[s.SessionName] {
			return fmt.Errorf("duplicate session_name %q", s.SessionName)
		}
		seenSessionNames[s.SessionName] = true
		if len(s.Servers) == 0 {
			return fmt.Errorf("session %q: must have at least one server", s.SessionName)
		}
		if s.ApplicationID == "" {
			return fmt.Errorf("session %q: application_id cannot be empty", s.SessionName)
		}
	}

	return nil
}
