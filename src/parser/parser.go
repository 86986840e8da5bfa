// Package parser turns a well-formed MarketPsych bulletin body into a
// models.Table. The parser is a four-state machine:
// TIMESTAMP, HEADER, ROW, FIN. Malformed rows inside an otherwise
// well-formed bulletin are skipped, not fatal; a
// malformed preamble rejects the whole response.
package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"marketpsych-feed/src/logger"
	"marketpsych-feed/src/models"
)

const timestampLayout = "2006-01-02 15:04:05"

type state int

const (
	stateTimestamp state = iota
	stateHeader
	stateRow
	stateFin
)

// Parser holds the tiny bit of cross-cycle state needed to log an
// engine_version change for a resource without treating it as an
// error: the previous engine_version seen for each resource.
type Parser struct {
	log              *logger.Logger
	lastEngineVersion map[string]string
}

// New creates a Parser. name is used to tag log lines (the resource
// pool they're shared across, typically "parser").
func New(name string) *Parser {
	return &Parser{
		log:               logger.New(name),
		lastEngineVersion: make(map[string]string),
	}
}

// -----------------------------------------------------------------------------

// Parse runs the state machine over one response body for the named
// resource (used only for the engine-version-change log, not for any
// parsing decision).
func (p *Parser) Parse(resourceName string, body []byte) (*models.Table, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	st := stateTimestamp
	table := &models.Table{}

	for scanner.Scan() {
		line := scanner.Text()

		switch st {
		case stateTimestamp:
			engineVersion, openTime, closeTime, err := parseTimestampLine(line)
			if err != nil {
				return nil, fmt.Errorf("payload-malformed: %w", err)
			}
			table.EngineVersion = engineVersion
			table.OpenTime = openTime
			table.CloseTime = closeTime
			p.logEngineVersionChange(resourceName, engineVersion)
			st = stateHeader

		case stateHeader:
			columns := strings.Split(line, "\t")
			if len(columns) < 2 {
				return nil, fmt.Errorf("payload-malformed: header requires at least 2 columns, got %d", len(columns))
			}
			table.Columns = columns
			st = stateRow

		case stateRow:
			if strings.HasPrefix(line, "#") {
				st = stateFin
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			fields := strings.Split(line, "\t")
			if len(fields) != len(table.Columns) {
				p.log.Warning("resource %s: skipping row with %d fields, want %d", resourceName, len(fields), len(table.Columns))
				continue
			}
			row := models.Row{
				Key:    fields[0],
				Values: make([]float64, len(fields)-1),
			}
			for i, cell := range fields[1:] {
				row.Values[i] = parseFloat(cell)
			}
			table.Rows = append(table.Rows, row)

		case stateFin:
			// ignore remaining lines
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("payload-malformed: %w", err)
	}
	if st == stateTimestamp || st == stateHeader {
		return nil, fmt.Errorf("payload-malformed: bulletin truncated before the header line")
	}

	return table, nil
}

// -----------------------------------------------------------------------------

func (p *Parser) logEngineVersionChange(resourceName, engineVersion string) {
	prev, ok := p.lastEngineVersion[resourceName]
	if ok && prev != engineVersion {
		p.log.Warning("resource %s: engine_version changed %s -> %s", resourceName, prev, engineVersion)
	}
	p.lastEngineVersion[resourceName] = engineVersion
}

// -----------------------------------------------------------------------------

// parseTimestampLine parses:
//   # MarketPsych Engine Version <ver> | <open_utc> - <close_utc>
func parseTimestampLine(line string) (engineVersion string, openTime, closeTime time.Time, err error) {
	const prefix = "# MarketPsych Engine Version "
	if !strings.HasPrefix(line, prefix) {
		return "", time.Time{}, time.Time{}, fmt.Errorf("missing engine-version preamble")
	}
	rest := line[len(prefix):]

	pipeIdx := strings.Index(rest, "|")
	if pipeIdx < 0 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("missing '|' delimiter")
	}
	engineVersion = strings.TrimSpace(rest[:pipeIdx])
	if engineVersion == "" {
		return "", time.Time{}, time.Time{}, fmt.Errorf("empty engine version")
	}

	window := strings.TrimSpace(rest[pipeIdx+1:])
	dashIdx := strings.Index(window, " - ")
	if dashIdx < 0 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("missing '-' window delimiter")
	}
	openStr := strings.TrimSuffix(strings.TrimSpace(window[:dashIdx]), " UTC")
	closeStr := strings.TrimSuffix(strings.TrimSpace(window[dashIdx+3:]), " UTC")

	openTime, err = time.ParseInLocation(timestampLayout, openStr, time.UTC)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("unparseable open timestamp %q: %w", openStr, err)
	}
	closeTime, err = time.ParseInLocation(timestampLayout, closeStr, time.UTC)
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("unparseable close timestamp %q: %w", closeStr, err)
	}
	return engineVersion, openTime, closeTime, nil
}

// -----------------------------------------------------------------------------

// parseFloat parses a cell as IEEE-754, honoring "inf"/"-inf"/"nan"
// (case-insensitively, which strconv.ParseFloat already does).
// Unparseable cells become NaN.
func parseFloat(cell string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
