// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/reliability"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// ErrImportComplete signals the CSV has been fully consumed. Permanent, like
// ErrReplayComplete.
var ErrImportComplete = errors.New("csv import complete")

// TimeUnit selects how the time column is interpreted.
type TimeUnit string

const (
	TimeSeconds TimeUnit = "seconds"
	TimeMillis  TimeUnit = "millis"
)

// CSVImportConfig configures a CSV import source.
type CSVImportConfig struct {
	// Path is the CSV file; the first row must be a header.
	Path string `koanf:"path"`

	// TimeColumn names the required timestamp column.
	TimeColumn string `koanf:"time_column"`

	// TimeUnit interprets the time column, seconds by default.
	TimeUnit TimeUnit `koanf:"time_unit"`

	// BatchSize caps rows returned per Read.
	BatchSize int `koanf:"batch_size"`
}

// CSVImport reads an exported log file and maps its columns to canonical
// channels using the mapping engine's name heuristics. Columns that match no
// role are skipped with a log line; rows with unparseable cells lose the
// cell, not the row.
type CSVImport struct {
	cfg CSVImportConfig

	file    *os.File
	reader  *csv.Reader
	timeIdx int
	columns map[int]mapping.Role // column index -> role
}

// NewCSVImport builds the import source. The file is opened on Connect.
func NewCSVImport(cfg CSVImportConfig) *CSVImport {
	if cfg.TimeColumn == "" {
		cfg.TimeColumn = "time"
	}
	if cfg.TimeUnit == "" {
		cfg.TimeUnit = TimeSeconds
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &CSVImport{cfg: cfg, timeIdx: -1}
}

// Name identifies the source by file name.
func (c *CSVImport) Name() string {
	return "csv:" + filepath.Base(c.cfg.Path)
}

// Connect opens the file and resolves the header to channel roles. A missing
// time column is a permanent configuration error.
func (c *CSVImport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return reliability.Permanent(fmt.Errorf("open csv: %w", err))
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("read csv header: %w", err))
	}

	c.timeIdx = -1
	c.columns = make(map[int]mapping.Role)
	for i, name := range header {
		trimmed := strings.TrimSpace(name)
		if strings.EqualFold(trimmed, c.cfg.TimeColumn) {
			c.timeIdx = i
			continue
		}
		role, ok := mapping.MatchColumn(trimmed)
		if !ok {
			logging.Info().Str("column", trimmed).Msg("csv column matches no canonical role, skipping")
			continue
		}
		c.columns[i] = role
	}
	if c.timeIdx < 0 {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("csv %s: required time column %q not found", c.cfg.Path, c.cfg.TimeColumn))
	}
	if len(c.columns) == 0 {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("csv %s: no column maps to a canonical role", c.cfg.Path))
	}

	c.file = f
	c.reader = reader
	logging.Info().
		Str("path", c.cfg.Path).
		Int("mapped_columns", len(c.columns)).
		Msg("csv import opened")
	return nil
}

// Read returns samples for the next batch of rows. End of file surfaces as
// a permanent ErrImportComplete.
func (c *CSVImport) Read(ctx context.Context) ([]telemetry.Sample, error) {
	if c.reader == nil {
		return nil, reliability.Permanent(errors.New("csv import not connected"))
	}

	name := c.Name()
	var samples []telemetry.Sample
	for rows := 0; rows < c.cfg.BatchSize; rows++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			if len(samples) > 0 {
				return samples, nil
			}
			return nil, reliability.Permanent(ErrImportComplete)
		}
		if err != nil {
			// A ragged row is data damage, not a transport fault; skip it.
			logging.Warn().Err(err).Msg("skipping malformed csv row")
			continue
		}
		if c.timeIdx >= len(row) {
			continue
		}

		ts, err := c.parseTime(row[c.timeIdx])
		if err != nil {
			logging.Debug().Str("cell", row[c.timeIdx]).Msg("unparseable csv timestamp, skipping row")
			continue
		}

		for idx, role := range c.columns {
			if idx >= len(row) {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
			if err != nil {
				continue
			}
			samples = append(samples, telemetry.Sample{
				SourceID:        name,
				Channel:         string(role),
				TimestampMillis: ts,
				Value:           value,
			})
		}
	}
	return samples, nil
}

func (c *CSVImport) parseTime(cell string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, err
	}
	if c.cfg.TimeUnit == TimeMillis {
		return int64(v), nil
	}
	return int64(v * 1000), nil
}

// Close releases the file.
func (c *CSVImport) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	c.reader = nil
	return err
}
