// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport is the contract between the sensor hardware and the
// sensor network: a stream of per-sensor orientation samples, per-sensor
// batches of logged samples, and connection events.
//
// Adapters live in sub-packages (mqtt, serial, spi); Mock in this package
// generates synthetic motion for tests and bench runs.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/quaternion"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: closed")

// Sample is one orientation reading of one sensor.
type Sample struct {
	SensorIndex int                   `json:"sensor"`
	Quaternion  quaternion.Quaternion `json:"quat"`
	Timestamp   time.Time             `json:"timestamp"`
}

// SampleHandler receives live samples. It is called on the transport's
// delivery goroutine and must not block.
type SampleHandler func(Sample)

// BatchHandler receives a chunk of logged samples for one sensor.
type BatchHandler func(sensorIndex int, samples []Sample)

// ProgressFunc reports the download progress of one sensor in [0, 1].
type ProgressFunc func(sensorIndex int, fraction float64)

// Transport delivers samples and events for a fixed set of sensors.
type Transport interface {
	// Connect blocks until every sensor is connected and streaming, or
	// returns the first failure. It may be called again after a lost
	// connection.
	Connect(ctx context.Context) error
	// Subscribe registers a live sample handler; the returned func removes
	// it.
	Subscribe(h SampleHandler) (unsubscribe func())
	// OnBatch registers a logged sample handler; the returned func removes
	// it.
	OnBatch(h BatchHandler) (unsubscribe func())
	// Events is closed when the transport is closed.
	Events() <-chan Event
	// Close disconnects every sensor.
	Close() error
}

// Downloader is implemented by transports that can retrieve the sensors'
// on-board logs. Download returns once every sensor has delivered its log
// through the batch handlers.
type Downloader interface {
	Download(ctx context.Context, progress ProgressFunc) error
}
