// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package network

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/relabs-tech/knee_flexion/internal/logfile"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

// ErrDownloadInProgress is returned when DownloadLogs is called while
// another download is running.
var ErrDownloadInProgress = errors.New("network: download already in progress")

// download collects the records exported while a log download runs.
// Its fields are guarded by Service.mu.
type download struct {
	record   *logfile.Record
	progress []float64
	err      error
}

// DownloadLogs retrieves every sensor's on-board log and aligns the logs
// into one record stamped with the configured metadata. progress, when
// set, receives the slowest sensor's progress in [0, 1]. The record is nil
// when the logs had nothing in common.
func (s *Service) DownloadLogs(ctx context.Context, progress func(fraction float64)) (*logfile.Record, error) {
	dl, ok := s.tr.(transport.Downloader)
	if !ok {
		return nil, ErrNoDownload
	}
	if !s.Connected() {
		return nil, ErrNotConnected
	}

	s.mu.Lock()
	if s.download != nil {
		s.mu.Unlock()
		return nil, ErrDownloadInProgress
	}
	s.buffered.ClearBuffer()
	d := &download{progress: make([]float64, s.cfg.Sensors)}
	s.download = d
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.download = nil
		s.buffered.ClearBuffer()
		s.mu.Unlock()
	}()

	err := dl.Download(ctx, func(sensorIndex int, fraction float64) {
		s.mu.Lock()
		if sensorIndex >= 0 && sensorIndex < len(d.progress) {
			d.progress[sensorIndex] = fraction
		}
		overall := d.progress[0]
		for _, p := range d.progress[1:] {
			if p < overall {
				overall = p
			}
		}
		s.mu.Unlock()
		if progress != nil {
			progress(overall)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("network: download: %w", err)
	}

	s.mu.Lock()
	s.collect(d, s.buffered.Flush())
	rec, batchErr := d.record, d.err
	s.mu.Unlock()

	if batchErr != nil {
		return nil, fmt.Errorf("network: download: %w", batchErr)
	}
	if rec == nil {
		monitoring.Logf("network: download finished without aligned samples")
		return nil, nil
	}
	rec.Metadata = s.cfg.Metadata
	rec.Metadata.CreationDate = s.clk.Now()
	monitoring.Logf("network: downloaded %d aligned samples from %d sensors", rec.Count(), rec.SensorCount())
	return rec, nil
}

// onBatch runs on the transport's delivery goroutine.
func (s *Service) onBatch(sensorIndex int, samples []transport.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.download
	if d == nil {
		monitoring.Logf("network: ignoring %d logged samples from sensor %d outside a download", len(samples), sensorIndex)
		return
	}
	rec, _, err := s.buffered.AddDataToBuffer(sensorIndex, samples)
	if err != nil {
		multierr.AppendInto(&d.err, err)
		return
	}
	s.collect(d, rec)
}

// collect must be called with s.mu held.
func (s *Service) collect(d *download, rec *logfile.Record) {
	if rec == nil {
		return
	}
	if d.record == nil {
		d.record = rec
		return
	}
	multierr.AppendInto(&d.err, d.record.Append(rec))
}
