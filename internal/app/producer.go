// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
	"github.com/relabs-tech/knee_flexion/internal/transport"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
)

// tarer is the part of the network the tare command drives.
type tarer interface {
	Tare() error
	ResetTare()
}

// angleProducer publishes network output for the web and console
// subscribers.
type angleProducer struct {
	publish publisher
	prefix  string
	tare    tarer
}

func (p *angleProducer) publishJSON(topic string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("producer: json marshal error (%s): %v", topic, err)
		return
	}
	if err := p.publish(topic, qos, retained, payload); err != nil {
		monitoring.Logf("producer: MQTT publish error (%s): %v", topic, err)
	}
}

func (p *angleProducer) publishReading(r network.Reading) {
	p.publishJSON(mqttbridge.AnglesTopic(p.prefix), 0, true, r)
}

func (p *angleProducer) publishEvent(e transport.Event) {
	p.publishJSON(mqttbridge.EventsTopic(p.prefix), 1, false, e)
}

func (p *angleProducer) handleTare(payload []byte) {
	if strings.TrimSpace(string(payload)) == "reset" {
		p.tare.ResetTare()
		monitoring.Logf("producer: tare reset")
		return
	}
	if err := p.tare.Tare(); err != nil {
		monitoring.Logf("producer: tare failed: %v", err)
		p.publishEvent(transport.NewEvent(transport.EventError, transport.AllSensors, "tare failed: "+err.Error()))
	}
}

// RunAngleProducer runs the sensor network over the configured transport
// and publishes readings on <prefix>/angles and events on <prefix>/events.
// A message on <prefix>/cmd/tare captures or resets the zero reference.
func RunAngleProducer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newNetwork(cfg, cfg.MQTTClientIDProducer+"-sensors")
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Disconnect(); err != nil {
			monitoring.Logf("producer: %v", err)
		}
	}()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	monitoring.Logf("producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	p := &angleProducer{publish: mqttPublisher(client), prefix: cfg.MQTTTopicPrefix, tare: svc}

	token := client.Subscribe(mqttbridge.TareTopic(cfg.MQTTTopicPrefix), 1, func(_ mqtt.Client, msg mqtt.Message) {
		p.handleTare(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	monitoring.Logf("producer: subscribed to %s", mqttbridge.TareTopic(cfg.MQTTTopicPrefix))

	readings, cancel := svc.Readings(64)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for r := range readings {
			p.publishReading(r)
		}
	}()
	go func() {
		defer wg.Done()
		for e := range svc.Events() {
			monitoring.Logf("producer: event %s", e)
			p.publishEvent(e)
		}
	}()

	if err := svc.Connect(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	monitoring.Logf("producer: shutting down")
	if err := svc.Disconnect(); err != nil {
		monitoring.Logf("producer: %v", err)
	}
	wg.Wait()
	st := svc.Stats()
	monitoring.Logf("producer: %d cycles, %d same-cycle overwrites, %d dropped readings", st.Cycles, st.Overwrites, st.DroppedReadings)
	return nil
}
