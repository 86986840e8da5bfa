// Package publish implements the publisher mapper: for
// each parsed row it resolves the shared ItemStream, binds the fixed
// field dictionary plus the resource's configured metric columns, and
// hands the built RefreshMessage to a Provider for per-session
// fan-out.
package publish

import (
	"fmt"

	"marketpsych-feed/src/dacs"
	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
	"marketpsych-feed/src/quant"
)

// Provider is the minimal surface the mapper needs from the provider
// component; kept as an interface so tests can stub it.
type Provider interface {
	Lookup(ric string) (*models.ItemStream, bool)
	CreateItemStream(ric string) *models.ItemStream
	Send(msg models.RefreshMessage) int
}

// CycleStats tallies one cycle's mapping outcome per resource — a
// per-cycle "N/M rows mapped" counter mirroring a
// bulletin summary log line.
type CycleStats struct {
	ResourceName string
	RowsSeen     int
	RowsMapped   int
	MsgsSent     int
	DACSFailures int
}

// Mapper binds parsed tables to refresh messages and submits them.
type Mapper struct {
	log             *logger.Logger
	provider        Provider
	defaultDACSID   *uint32
}

// New creates a Mapper. defaultDACSID is the service-wide dacs_id
// fallback used when a Resource.DACSID override is absent; nil means
// no service-wide default is configured.
func New(provider Provider, defaultDACSID *uint32) *Mapper {
	return &Mapper{
		log:           logger.New("publish"),
		provider:      provider,
		defaultDACSID: defaultDACSID,
	}
}

// -----------------------------------------------------------------------------

// Publish maps one parsed table for the given resource and submits a
// refresh for every row whose key exists in resource.Items.
// Rows are submitted in the order they arrived from the parser.
func (m *Mapper) Publish(resource models.Resource, table *models.Table) CycleStats {
	stats := CycleStats{ResourceName: resource.Name, RowsSeen: len(table.Rows)}

	lock, err := m.permissionLock(resource)
	if err != nil {
		m.log.Warning("resource %s: permission lock failed, publishing unlocked: %v", resource.Name, err)
		stats.DACSFailures++
	}

	for _, row := range table.Rows {
		item, ok := resource.Items[row.Key]
		if !ok {
			continue
		}

		stream, ok := m.provider.Lookup(item.RIC)
		if !ok {
			stream = m.provider.CreateItemStream(item.RIC)
		}

		fields := m.bindFields(resource, table, item, row)
		msg := models.RefreshMessage{
			Stream: stream,
			Fields: fields,
			Lock:   lock,
		}

		stats.MsgsSent += m.provider.Send(msg)
		stats.RowsMapped++
	}

	m.log.Info("resource %s: mapped %d/%d rows", resource.Name, stats.RowsMapped, stats.RowsSeen)
	return stats
}

// -----------------------------------------------------------------------------

func (m *Mapper) bindFields(resource models.Resource, table *models.Table, item models.Item, row models.Row) []models.FieldValue {
	fields := []models.FieldValue{
		{ID: models.FieldStockRIC, Kind: models.KindASCII, Str: item.RIC},
		{ID: models.FieldSFName, Kind: models.KindRMTES, Str: resource.Source},
		{ID: models.FieldEngineVer, Kind: models.KindRMTES, Str: table.EngineVersion},
		{ID: models.FieldTimestamp, Kind: models.KindRMTES, Str: table.CloseTime.Format("2006-01-02 15:04:05.000")},
	}

	// columns[0] is the row-key label, never numeric.
	for i, col := range table.Columns {
		if i == 0 {
			continue
		}
		fid, ok := resource.Fields[col]
		if !ok {
			continue
		}
		valueIdx := i - 1
		if valueIdx >= len(row.Values) {
			continue
		}
		mant := quant.Quantize(row.Values[valueIdx])
		if !mant.Valid {
			fields = append(fields, models.FieldValue{ID: fid, Kind: models.KindInt64, Blank: true})
			continue
		}
		fields = append(fields, models.FieldValue{
			ID:       fid,
			Kind:     models.KindInt64,
			Mantissa: mant.Value,
			Exponent: quant.Exponent,
		})
	}

	return fields
}

// -----------------------------------------------------------------------------

// permissionLock computes a DACS lock over the resource's
// entitlement code, if a dacs id applies to this resource (resource
// override, falling back to the service-wide default). A resource
// with neither configured publishes unlocked.
func (m *Mapper) permissionLock(resource models.Resource) ([]byte, error) {
	id := resource.DACSID
	if id == nil {
		id = m.defaultDACSID
	}
	if id == nil {
		return nil, nil
	}
	lock, err := dacs.Encode(*id, []uint32{resource.EntitlementCode}, dacs.CombinatorOR)
	if err != nil {
		return nil, fmt.Errorf("dacs encode: %w", err)
	}
	return []byte(lock), nil
}
