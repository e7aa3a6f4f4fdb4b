// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialbridge reads sensor samples relayed by a USB/UART radio
// dongle as NMEA-style sentences.
package serialbridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

// logChunk is the number of logged samples delivered per batch.
const logChunk = 25

// Config selects the serial port.
type Config struct {
	PortName string
	BaudRate uint
	Sensors  int
	// Open defaults to serial.Open.
	Open func(serial.OpenOptions) (io.ReadWriteCloser, error)
}

type download struct {
	progress transport.ProgressFunc
	pending  map[int]bool
	seen     map[int]int
	buffered map[int][]transport.Sample
	finished chan struct{}
}

// Bridge implements transport.Transport and transport.Downloader over a
// serial port.
type Bridge struct {
	*transport.Hub

	cfg Config

	mu      sync.Mutex
	port    io.ReadWriteCloser
	closing bool
	readers sync.WaitGroup
	dl      *download
}

// New returns an unconnected bridge.
func New(cfg Config) *Bridge {
	if cfg.Open == nil {
		cfg.Open = serial.Open
	}
	return &Bridge{Hub: transport.NewHub(64), cfg: cfg}
}

func (b *Bridge) write(line string) error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial: port %s not open", b.cfg.PortName)
	}
	_, err := io.WriteString(port, line+"\r\n")
	return err
}

// Connect opens the port and asks the dongle to start streaming.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.Closed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Emit(transport.NewEvent(transport.EventConnectingInitiated, transport.AllSensors, b.cfg.PortName))

	b.mu.Lock()
	if b.port != nil {
		b.mu.Unlock()
		return nil
	}
	opts := serial.OpenOptions{
		PortName:              b.cfg.PortName,
		BaudRate:              b.cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := b.cfg.Open(opts)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("serial: open %s: %w", b.cfg.PortName, err)
	}
	b.port = port
	b.closing = false
	b.readers.Add(1)
	b.mu.Unlock()

	monitoring.Logf("serial: port opened on %s at %d baud", opts.PortName, opts.BaudRate)
	go b.read(port)

	if err := b.write(Command("STREAM")); err != nil {
		return fmt.Errorf("serial: start stream: %w", err)
	}
	return nil
}

func (b *Bridge) read(port io.ReadWriteCloser) {
	defer b.readers.Done()

	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			b.mu.Lock()
			closing := b.closing
			if b.port == port {
				b.port = nil
			}
			b.mu.Unlock()
			port.Close()
			if !closing {
				monitoring.Logf("serial: read error: %v", err)
				b.Emit(transport.NewEvent(transport.EventLostConnection, transport.AllSensors, err.Error()))
			}
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		b.handle(line)
	}
}

func (b *Bridge) handle(line string) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		monitoring.Logf("serial: %v (line: %q)", err, line)
		return
	}

	switch s := sentence.(type) {
	case QUA:
		b.PublishSample(s.Sample())
	case LOG:
		b.logged(s)
	case STA:
		e, err := s.Event()
		if err != nil {
			monitoring.Logf("serial: %v", err)
			return
		}
		b.Emit(e)
	}
}

func (b *Bridge) logged(l LOG) {
	idx := int(l.Sensor)

	b.mu.Lock()
	dl := b.dl
	if dl == nil {
		b.mu.Unlock()
		monitoring.Logf("serial: log sample for sensor %d outside a download", idx)
		return
	}
	dl.buffered[idx] = append(dl.buffered[idx], l.Sample())
	dl.seen[idx]++
	var flush []transport.Sample
	if len(dl.buffered[idx]) >= logChunk || l.Remaining <= 0 {
		flush = dl.buffered[idx]
		dl.buffered[idx] = nil
	}
	progress := float64(dl.seen[idx]) / float64(dl.seen[idx]+int(max(l.Remaining, 0)))
	done := l.Remaining <= 0
	if done && dl.pending[idx] {
		delete(dl.pending, idx)
	}
	finished := done && len(dl.pending) == 0
	report := dl.progress
	b.mu.Unlock()

	if len(flush) > 0 {
		b.PublishBatch(idx, flush)
	}
	if report != nil && len(flush) > 0 {
		report(idx, progress)
	}
	if finished {
		b.mu.Lock()
		if b.dl == dl {
			b.dl = nil
			close(dl.finished)
		}
		b.mu.Unlock()
	}
}

// Download requests every sensor log and waits for the last sample of each.
func (b *Bridge) Download(ctx context.Context, progress transport.ProgressFunc) error {
	if b.Closed() {
		return transport.ErrClosed
	}

	dl := &download{
		progress: progress,
		pending:  make(map[int]bool, b.cfg.Sensors),
		seen:     make(map[int]int),
		buffered: make(map[int][]transport.Sample),
		finished: make(chan struct{}),
	}
	for i := 0; i < b.cfg.Sensors; i++ {
		dl.pending[i] = true
	}

	b.mu.Lock()
	if b.dl != nil {
		b.mu.Unlock()
		return errors.New("serial: download already running")
	}
	b.dl = dl
	b.mu.Unlock()

	abort := func() {
		b.mu.Lock()
		if b.dl == dl {
			b.dl = nil
		}
		b.mu.Unlock()
	}

	if err := b.write(Command("DOWNLOAD")); err != nil {
		abort()
		return fmt.Errorf("serial: request download: %w", err)
	}

	select {
	case <-dl.finished:
		return nil
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}
}

// Close stops streaming and closes the port.
func (b *Bridge) Close() error {
	if b.Closed() {
		return nil
	}

	var err error
	b.mu.Lock()
	port := b.port
	b.closing = true
	b.port = nil
	b.mu.Unlock()

	if port != nil {
		if _, werr := io.WriteString(port, Command("STOP")+"\r\n"); werr != nil {
			monitoring.Logf("serial: stop command: %v", werr)
		}
		err = port.Close()
	}
	b.readers.Wait()

	b.Emit(transport.NewEvent(transport.EventDisconnected, transport.AllSensors, ""))
	b.Hub.Close()
	return err
}
