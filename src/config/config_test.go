package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketpsych-feed/src/models"
)

func validConfig() *Config {
	return &Config{
		Service: models.ServiceConfig{
			Interval:            60 * time.Second,
			MaximumResponseSize: 1024,
			MinimumResponseSize: 4,
			RequestHTTPEncoding: "gzip",
			TimeOffsetConstant:  "00:00:00",
		},
		Resources: []models.Resource{
			{
				Name:   "res1",
				URL:    "http://example.com/feed",
				Fields: map[string]int32{"Buzz": 7001},
				Items:  map[string]models.Item{"1679": {RIC: "MP.1679"}},
			},
		},
		Sessions: []models.SessionConfig{
			{SessionName: "s1", Servers: []string{"host1"}, ApplicationID: "app1"},
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsZeroInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Service.Interval = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMinGreaterThanMax(t *testing.T) {
	cfg := validConfig()
	cfg.Service.MinimumResponseSize = 2000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownEncoding(t *testing.T) {
	cfg := validConfig()
	cfg.Service.RequestHTTPEncoding = "brotli"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateResourceName(t *testing.T) {
	cfg := validConfig()
	cfg.Resources = append(cfg.Resources, cfg.Resources[0])
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsResourceWithNoFields(t *testing.T) {
	cfg := validConfig()
	cfg.Resources[0].Fields = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSessionWithNoServers(t *testing.T) {
	cfg := validConfig()
	cfg.Sessions[0].Servers = nil
	assert.Error(t, cfg.Validate())
}

func TestParseDACSIDRejectsNonNumeric(t *testing.T) {
	_, err := parseDACSID("not-a-number")
	assert.Error(t, err)
}

func TestParseDACSIDAcceptsNumeric(t *testing.T) {
	id, err := parseDACSID("42")
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), id)
}
