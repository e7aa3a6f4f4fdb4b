// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mqttbridge receives sensor samples relayed through an MQTT broker,
// as published by the sample producer or a wireless gateway.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/transport"
)

// Config selects the broker and topic namespace.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Sensors     int
}

// LogChunk is the payload of <prefix>/sensor/<i>/log.
type LogChunk struct {
	Samples  []transport.Sample `json:"samples"`
	Progress float64            `json:"progress"`
	Done     bool               `json:"done"`
}

// Bridge implements transport.Transport and transport.Downloader over MQTT.
type Bridge struct {
	*transport.Hub

	cfg    Config
	client mqtt.Client

	mu       sync.Mutex
	progress transport.ProgressFunc
	pending  map[int]bool
	finished chan struct{}
}

// New builds the client; nothing is sent until Connect.
func New(cfg Config) *Bridge {
	b := &Bridge{
		Hub: transport.NewHub(64),
		cfg: cfg,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("mqtt: connection lost: %v", err)
			b.Emit(transport.NewEvent(transport.EventLostConnection, transport.AllSensors, err.Error()))
		})
	b.client = mqtt.NewClient(opts)
	return b
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect connects to the broker and subscribes to every sensor topic.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.Closed() {
		return transport.ErrClosed
	}
	b.Emit(transport.NewEvent(transport.EventConnectingInitiated, transport.AllSensors, b.cfg.Broker))

	if !b.client.IsConnected() {
		if err := wait(ctx, b.client.Connect()); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
		}
	}
	monitoring.Logf("mqtt: connected to %s", b.cfg.Broker)

	filters := map[string]byte{
		SensorWildcard(b.cfg.TopicPrefix, LeafQuat):   0,
		SensorWildcard(b.cfg.TopicPrefix, LeafStatus): 1,
		SensorWildcard(b.cfg.TopicPrefix, LeafLog):    1,
	}
	if err := wait(ctx, b.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		b.handle(msg.Topic(), msg.Payload())
	})); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}

	b.Emit(transport.NewEvent(transport.EventConnected, transport.AllSensors, ""))
	return nil
}

func (b *Bridge) handle(topic string, payload []byte) {
	idx, leaf, err := parseSensorTopic(b.cfg.TopicPrefix, topic)
	if err != nil {
		monitoring.Logf("mqtt: %v", err)
		return
	}

	switch leaf {
	case LeafQuat:
		var s transport.Sample
		if err := json.Unmarshal(payload, &s); err != nil {
			monitoring.Logf("mqtt: sample unmarshal error on %s: %v", topic, err)
			return
		}
		s.SensorIndex = idx
		b.PublishSample(s)

	case LeafStatus:
		var e transport.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			monitoring.Logf("mqtt: status unmarshal error on %s: %v", topic, err)
			return
		}
		e.SensorIndex = idx
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		b.Emit(e)

	case LeafLog:
		var c LogChunk
		if err := json.Unmarshal(payload, &c); err != nil {
			monitoring.Logf("mqtt: log unmarshal error on %s: %v", topic, err)
			return
		}
		for i := range c.Samples {
			c.Samples[i].SensorIndex = idx
		}
		if len(c.Samples) > 0 {
			b.PublishBatch(idx, c.Samples)
		}
		b.logProgress(idx, c)
	}
}

func (b *Bridge) logProgress(idx int, c LogChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == nil {
		return
	}
	progress := c.Progress
	if c.Done {
		progress = 1
	}
	if b.progress != nil {
		b.progress(idx, progress)
	}
	if c.Done && b.pending[idx] {
		delete(b.pending, idx)
		if len(b.pending) == 0 {
			close(b.finished)
			b.pending = nil
		}
	}
}

// Download asks the gateway for every sensor log and waits until each
// sensor has sent its final chunk.
func (b *Bridge) Download(ctx context.Context, progress transport.ProgressFunc) error {
	if b.Closed() {
		return transport.ErrClosed
	}

	finished := make(chan struct{})
	b.mu.Lock()
	if b.pending != nil {
		b.mu.Unlock()
		return fmt.Errorf("mqtt: download already running")
	}
	b.pending = make(map[int]bool, b.cfg.Sensors)
	for i := 0; i < b.cfg.Sensors; i++ {
		b.pending[i] = true
	}
	b.progress = progress
	b.finished = finished
	b.mu.Unlock()

	reset := func() {
		b.mu.Lock()
		b.pending = nil
		b.progress = nil
		b.mu.Unlock()
	}

	if err := wait(ctx, b.client.Publish(DownloadTopic(b.cfg.TopicPrefix), 1, false, []byte("all"))); err != nil {
		reset()
		return fmt.Errorf("mqtt download request: %w", err)
	}

	select {
	case <-finished:
		b.mu.Lock()
		b.progress = nil
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		reset()
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	if b.Closed() {
		return nil
	}
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.Emit(transport.NewEvent(transport.EventDisconnected, transport.AllSensors, ""))
	b.Hub.Close()
	return nil
}
