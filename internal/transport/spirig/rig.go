// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package spirig polls MPU9250 boards wired to the SPI bus of the host
// computer, one board per leg segment. It is used on the bench to exercise
// the angle pipeline without the wireless sensors.
package spirig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/orientation"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

// maxReadErrors consecutive failed polls of one board count as a lost
// connection.
const maxReadErrors = 10

// Device is one wired IMU.
type Device struct {
	SPIDevice string
	CSPin     string
}

// Config lists the boards in sensor index order.
type Config struct {
	Devices  []Device
	Interval time.Duration
}

// Rig implements transport.Transport by polling orientation sources.
type Rig struct {
	*transport.Hub

	interval time.Duration
	clk      clock.Clock
	open     func() ([]orientation.Source, error)

	mu      sync.Mutex
	sources []orientation.Source
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a rig that opens the configured boards on Connect.
func New(cfg Config, clk clock.Clock) *Rig {
	return newRig(cfg.Interval, clk, func() ([]orientation.Source, error) {
		sources := make([]orientation.Source, 0, len(cfg.Devices))
		for _, d := range cfg.Devices {
			src, err := orientation.NewIMUSource(d.SPIDevice, d.CSPin)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		return sources, nil
	})
}

// NewWithSources returns a rig over already opened sources.
func NewWithSources(sources []orientation.Source, interval time.Duration, clk clock.Clock) *Rig {
	return newRig(interval, clk, func() ([]orientation.Source, error) { return sources, nil })
}

func newRig(interval time.Duration, clk clock.Clock, open func() ([]orientation.Source, error)) *Rig {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 40 * time.Millisecond
	}
	return &Rig{Hub: transport.NewHub(64), interval: interval, clk: clk, open: open}
}

// Connect opens the boards (once) and starts polling.
func (r *Rig) Connect(ctx context.Context) error {
	if r.Closed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	r.Emit(transport.NewEvent(transport.EventConnectingInitiated, transport.AllSensors, ""))
	if r.sources == nil {
		sources, err := r.open()
		if err != nil {
			return fmt.Errorf("spi: %w", err)
		}
		r.sources = sources
	}
	for i := range r.sources {
		r.Emit(transport.NewEvent(transport.EventConnected, i, ""))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	ticker := r.clk.Ticker(r.interval)
	r.wg.Add(1)
	go r.poll(runCtx, ticker, r.sources)
	return nil
}

func (r *Rig) poll(ctx context.Context, ticker *clock.Ticker, sources []orientation.Source) {
	defer r.wg.Done()
	defer ticker.Stop()

	failures := make([]int, len(sources))
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			for i, src := range sources {
				pose, err := src.Next()
				if err != nil {
					failures[i]++
					monitoring.Logf("spi: sensor %d read error: %v", i, err)
					if failures[i] == maxReadErrors {
						r.Emit(transport.NewEvent(transport.EventLostConnection, i, err.Error()))
					}
					continue
				}
				if failures[i] >= maxReadErrors {
					r.Emit(transport.NewEvent(transport.EventConnected, i, "recovered"))
				}
				failures[i] = 0
				r.PublishSample(transport.Sample{SensorIndex: i, Quaternion: pose.Quaternion(), Timestamp: t})
			}
		}
	}
}

// Close stops polling.
func (r *Rig) Close() error {
	if r.Closed() {
		return nil
	}
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	n := len(r.sources)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wg.Wait()
	}
	for i := 0; i < n; i++ {
		r.Emit(transport.NewEvent(transport.EventDisconnected, i, ""))
	}
	r.Hub.Close()
	return nil
}
