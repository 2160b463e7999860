// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package adapters

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/reliability"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// ErrReplayComplete signals the run file has been fully replayed. It is
// marked permanent so the reliability wrapper does not retry past it.
var ErrReplayComplete = errors.New("run file replay complete")

// Run file layout: a fixed 16-byte header followed by value records in the
// same 14-byte layout as the wire values payload.
const (
	runFileMagic      = "DLRF"
	runFileVersion    = 1
	runFileHeaderSize = 16
	runRecordSize     = 2 + 4 + 8
)

// RunFileConfig configures a run-file replay source.
type RunFileConfig struct {
	// Path is the run file to replay.
	Path string `koanf:"path"`

	// Pace replays at recorded speed using record timestamps. False replays
	// as fast as the queue accepts.
	Pace bool `koanf:"pace"`

	// BatchSize caps records returned per Read.
	BatchSize int `koanf:"batch_size"`
}

// RunFile replays a recorded dyno run as a live source, mapping vendor
// channel ids through the same confirmed mapping a live capture would use.
type RunFile struct {
	cfg      RunFileConfig
	channels map[uint16]mappedChannel

	file   *os.File
	lastTS int64 // millis of the last replayed record, -1 before the first
}

// NewRunFile builds the replay source. The file is opened on Connect.
func NewRunFile(cfg RunFileConfig, mappings []mapping.MappingConfidence) *RunFile {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	channels := make(map[uint16]mappedChannel, len(mappings))
	for _, m := range mappings {
		channels[m.SourceChannelID] = mappedChannel{role: m.CanonicalName, transform: m.Transform}
	}
	return &RunFile{cfg: cfg, channels: channels, lastTS: -1}
}

// Name identifies the source by file name.
func (r *RunFile) Name() string {
	return "runfile:" + filepath.Base(r.cfg.Path)
}

// Connect opens the file and validates its header.
func (r *RunFile) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return reliability.Permanent(fmt.Errorf("open run file: %w", err))
	}

	header := make([]byte, runFileHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("read run file header: %w", err))
	}
	if string(header[:4]) != runFileMagic {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("run file %s: bad magic", r.cfg.Path))
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != runFileVersion {
		_ = f.Close()
		return reliability.Permanent(fmt.Errorf("run file %s: unsupported version %d", r.cfg.Path, v))
	}

	r.file = f
	r.lastTS = -1
	logging.Info().Str("path", r.cfg.Path).Msg("run file opened for replay")
	return nil
}

// Read returns the next batch of records, paced to the recorded timeline
// when configured. End of file surfaces as a permanent ErrReplayComplete.
func (r *RunFile) Read(ctx context.Context) ([]telemetry.Sample, error) {
	if r.file == nil {
		return nil, reliability.Permanent(errors.New("run file not connected"))
	}

	name := r.Name()
	buf := make([]byte, runRecordSize)
	samples := make([]telemetry.Sample, 0, r.cfg.BatchSize)

	for len(samples) < r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(r.file, buf); err != nil {
			// A trailing partial record ends the replay the same as EOF.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if len(samples) > 0 {
					return samples, nil
				}
				return nil, reliability.Permanent(ErrReplayComplete)
			}
			return nil, fmt.Errorf("read run file record: %w", err)
		}

		channelID := binary.BigEndian.Uint16(buf[0:2])
		ts := int64(binary.BigEndian.Uint32(buf[2:6]))
		value := math.Float64frombits(binary.BigEndian.Uint64(buf[6:14]))

		if r.cfg.Pace && r.lastTS >= 0 && ts > r.lastTS {
			if err := r.sleep(ctx, time.Duration(ts-r.lastTS)*time.Millisecond); err != nil {
				return nil, err
			}
		}
		r.lastTS = ts

		mc, ok := r.channels[channelID]
		if !ok {
			continue
		}
		samples = append(samples, telemetry.Sample{
			SourceID:        name,
			Channel:         string(mc.role),
			TimestampMillis: ts,
			Value:           mc.transform.Apply(value),
		})
	}
	return samples, nil
}

func (r *RunFile) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close releases the file.
func (r *RunFile) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// WriteRunFile writes raw records into a new run file. Used by the recording
// path and by tests building fixtures.
func WriteRunFile(path string, records []RunRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create run file: %w", err)
	}
	defer f.Close()

	header := make([]byte, runFileHeaderSize)
	copy(header[:4], runFileMagic)
	binary.BigEndian.PutUint16(header[4:6], runFileVersion)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(records)))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write run file header: %w", err)
	}

	buf := make([]byte, runRecordSize)
	for _, rec := range records {
		binary.BigEndian.PutUint16(buf[0:2], rec.ChannelID)
		binary.BigEndian.PutUint32(buf[2:6], rec.TimestampMillis)
		binary.BigEndian.PutUint64(buf[6:14], math.Float64bits(rec.Value))
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("write run file record: %w", err)
		}
	}
	return nil
}

// RunRecord is one raw record in a run file.
type RunRecord struct {
	ChannelID       uint16
	TimestampMillis uint32
	Value           float64
}
