// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package network runs a set of orientation sensors as one knee
// measurement: it connects the transport, groups live samples into sync
// cycles, turns every cycle into anatomical angles and downloads the
// sensors' logs as aligned records.
//
// All synchronizer state is owned by a Service and mutated under one lock,
// so transport callbacks from different sensors never interleave a cycle.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/knee_flexion/internal/anatomy"
	"github.com/relabs-tech/knee_flexion/internal/logfile"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/quaternion"
	"github.com/relabs-tech/knee_flexion/internal/synchronizer"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

var (
	ErrNotConnected = errors.New("network: not connected")
	ErrNoReading    = errors.New("network: no reading to tare against")
	ErrNoDownload   = errors.New("network: transport cannot download logs")
)

// Config describes the sensor set and how hard to try to reach it.
type Config struct {
	Sensors         int
	Mounting        anatomy.Mounting
	TareMode        anatomy.TareMode
	InvertFlexion   bool
	ConnectPolicy   transport.RetryPolicy
	ReconnectPolicy transport.RetryPolicy
	// StreamingFrequency and ErrorTolerance size the log alignment
	// window; zero selects the synchronizer defaults.
	StreamingFrequency float64
	ErrorTolerance     float64
	// Metadata is stamped on every downloaded record. CreationDate is
	// replaced by the download time. Unset metadata defaults to
	// logfile.DefaultMetadata.
	Metadata logfile.Metadata
}

// Stats are counters since the service was created.
type Stats struct {
	Cycles          uint64 `json:"cycles"`
	Overwrites      uint64 `json:"overwrites"`
	Readings        uint64 `json:"readings"`
	DroppedReadings uint64 `json:"dropped_readings"`
	DroppedEvents   uint64 `json:"dropped_events"`
}

// Service is a sensor network bound to one transport. Create it with New;
// after Disconnect it cannot be reused.
type Service struct {
	cfg  Config
	tr   transport.Transport
	clk  clock.Clock
	tare *anatomy.Tare

	// mu serializes every synchronizer mutation.
	mu              sync.Mutex
	stream          *synchronizer.StreamSynchronizer
	buffered        *synchronizer.BufferedLogSynchronizer
	latest          []quaternion.Quaternion
	overwriteLogged bool
	download        *download

	state        sync.Mutex
	started      bool
	connected    bool
	closing      bool
	reconnecting bool
	cancelRetry  context.CancelFunc
	unsubscribe  func()

	events   *transport.Hub
	readings *readingBus
	wg       sync.WaitGroup
}

// New builds a service over tr. A nil clk uses the wall clock.
func New(tr transport.Transport, cfg Config, clk clock.Clock) (*Service, error) {
	if tr == nil {
		return nil, errors.New("network: nil transport")
	}
	if cfg.Sensors < 2 {
		return nil, fmt.Errorf("network: need a lower and an upper sensor, got %d", cfg.Sensors)
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ConnectPolicy.Attempts == 0 {
		cfg.ConnectPolicy = transport.DefaultConnectPolicy
	}
	if cfg.ReconnectPolicy.Attempts == 0 {
		cfg.ReconnectPolicy = transport.DefaultReconnectPolicy
	}
	if cfg.Metadata.TestType == "" {
		cfg.Metadata = logfile.DefaultMetadata(time.Time{})
	}

	stream, err := synchronizer.NewStream(cfg.Sensors)
	if err != nil {
		return nil, err
	}
	var opts []synchronizer.BufferedOption
	if cfg.StreamingFrequency > 0 {
		opts = append(opts, synchronizer.WithStreamingFrequency(cfg.StreamingFrequency))
	}
	if cfg.ErrorTolerance > 0 {
		opts = append(opts, synchronizer.WithErrorTolerance(cfg.ErrorTolerance))
	}
	buffered, err := synchronizer.NewBuffered(cfg.Sensors, opts...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		tr:       tr,
		clk:      clk,
		tare:     anatomy.NewTare(cfg.TareMode, cfg.Mounting, cfg.InvertFlexion),
		stream:   stream,
		buffered: buffered,
		events:   transport.NewHub(64),
		readings: newReadingBus(),
	}
	stream.SetHandler(s.onCycle)
	return s, nil
}

// Events delivers the transport's events followed by the network's own
// connecting, connected, error and disconnected events for AllSensors. The
// channel is closed by Disconnect.
func (s *Service) Events() <-chan transport.Event {
	return s.events.Events()
}

// Readings subscribes to completed cycles. The channel holds up to buffer
// readings; when it is full new readings are dropped for this subscriber.
// cancel closes the channel.
func (s *Service) Readings(buffer int) (ch <-chan Reading, cancel func()) {
	return s.readings.subscribe(buffer)
}

// Connected reports whether the sensors are streaming.
func (s *Service) Connected() bool {
	s.state.Lock()
	defer s.state.Unlock()
	return s.connected
}

func (s *Service) emit(kind transport.EventKind, description string) {
	s.events.Emit(transport.NewEvent(kind, transport.AllSensors, description))
}

// Connect connects every sensor, retrying per ConnectPolicy.
func (s *Service) Connect(ctx context.Context) error {
	s.state.Lock()
	if s.closing {
		s.state.Unlock()
		return transport.ErrClosed
	}
	if s.connected {
		s.state.Unlock()
		return nil
	}
	if !s.started {
		s.started = true
		unsubSample := s.tr.Subscribe(s.onSample)
		unsubBatch := s.tr.OnBatch(s.onBatch)
		s.unsubscribe = func() {
			unsubSample()
			unsubBatch()
		}
		s.wg.Add(1)
		go s.watch()
	}
	s.state.Unlock()

	s.emit(transport.EventConnectingInitiated, "")
	err := transport.Retry(ctx, s.clk, s.cfg.ConnectPolicy, func(ctx context.Context, attempt int) error {
		err := s.tr.Connect(ctx)
		if err != nil {
			monitoring.Logf("network: connect attempt %d/%d failed: %v", attempt, s.cfg.ConnectPolicy.Attempts, err)
		}
		return err
	})
	if err != nil {
		s.emit(transport.EventError, err.Error())
		return fmt.Errorf("network: connect: %w", err)
	}

	s.resetCycle()
	s.state.Lock()
	s.connected = true
	s.state.Unlock()
	s.emit(transport.EventConnected, "")
	monitoring.Logf("network: %d sensors connected", s.cfg.Sensors)
	return nil
}

// watch forwards transport events and starts a reconnect when a sensor is
// lost. It exits when the transport closes its event channel.
func (s *Service) watch() {
	defer s.wg.Done()
	for e := range s.tr.Events() {
		s.events.Emit(e)
		if e.Kind == transport.EventLostConnection {
			s.lost(e)
		}
	}
}

func (s *Service) lost(e transport.Event) {
	s.state.Lock()
	defer s.state.Unlock()

	if !s.connected || s.closing || s.reconnecting {
		return
	}
	monitoring.Logf("network: %s, reconnecting", e)
	s.connected = false
	s.reconnecting = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRetry = cancel
	s.wg.Add(1)
	go s.reconnect(ctx)
}

func (s *Service) reconnect(ctx context.Context) {
	defer s.wg.Done()

	s.resetCycle()
	err := transport.Retry(ctx, s.clk, s.cfg.ReconnectPolicy, func(ctx context.Context, attempt int) error {
		return s.tr.Connect(ctx)
	})

	s.state.Lock()
	s.reconnecting = false
	s.cancelRetry()
	s.cancelRetry = nil
	closing := s.closing
	if err == nil && !closing {
		s.connected = true
	}
	s.state.Unlock()

	switch {
	case closing || errors.Is(err, context.Canceled):
		return
	case err != nil:
		monitoring.Logf("network: reconnect failed: %v", err)
		s.emit(transport.EventError, "reconnect failed: "+err.Error())
	default:
		monitoring.Logf("network: reconnected")
		s.emit(transport.EventConnected, "")
	}
}

// Disconnect stops reconnecting, closes the transport and the readings and
// events channels.
func (s *Service) Disconnect() error {
	s.state.Lock()
	if s.closing {
		s.state.Unlock()
		return nil
	}
	s.closing = true
	s.connected = false
	if s.cancelRetry != nil {
		s.cancelRetry()
	}
	unsubscribe := s.unsubscribe
	s.state.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	err := s.tr.Close()
	s.wg.Wait()

	s.readings.close()
	s.emit(transport.EventDisconnected, "")
	s.events.Close()
	if err != nil {
		return fmt.Errorf("network: disconnect: %w", err)
	}
	return nil
}

func (s *Service) resetCycle() {
	s.mu.Lock()
	s.stream.Reset()
	s.overwriteLogged = false
	s.mu.Unlock()
}

// onSample runs on the transport's delivery goroutine.
func (s *Service) onSample(sm transport.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.stream.Stats().Overwrites
	if err := s.stream.Submit(sm.SensorIndex, sm.Quaternion.Normalize()); err != nil {
		monitoring.Logf("network: dropping sample: %v", err)
		return
	}
	if s.stream.Stats().Overwrites > before && !s.overwriteLogged {
		s.overwriteLogged = true
		monitoring.Logf("network: sensor %d reported twice in one cycle, keeping the latest", sm.SensorIndex)
	}
}

// onCycle is called by the stream synchronizer with s.mu held.
func (s *Service) onCycle(quats []quaternion.Quaternion) {
	s.overwriteLogged = false
	s.latest = quats

	angles, err := s.tare.Apply(quats)
	if err != nil {
		monitoring.Logf("network: %v", err)
		return
	}
	s.readings.publish(Reading{Quats: quats, Angles: angles, Timestamp: s.clk.Now()})
}

// Tare captures the latest cycle as the zero reference.
func (s *Service) Tare() error {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest == nil {
		return ErrNoReading
	}
	if err := s.tare.Capture(latest); err != nil {
		return err
	}
	monitoring.Logf("network: tare captured in %s mode", s.cfg.TareMode)
	return nil
}

// ResetTare drops the zero reference.
func (s *Service) ResetTare() {
	s.tare.Reset()
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := s.stream.Stats()
	s.mu.Unlock()

	return Stats{
		Cycles:          st.Cycles,
		Overwrites:      st.Overwrites,
		Readings:        s.readings.publishedReadings(),
		DroppedReadings: s.readings.droppedReadings(),
		DroppedEvents:   s.events.DroppedEvents(),
	}
}
