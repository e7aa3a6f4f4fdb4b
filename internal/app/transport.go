// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/network"
	"github.com/relabs-tech/knee_flexion/internal/transport"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
	"github.com/relabs-tech/knee_flexion/internal/transport/serialbridge"
	"github.com/relabs-tech/knee_flexion/internal/transport/spirig"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// openTransport builds the transport selected by TRANSPORT. clientID is
// only used by the mqtt transport.
func openTransport(cfg *config.Config, clientID string) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportMock:
		return transport.NewMock(transport.MockConfig{
			Sensors:    cfg.SensorCount,
			Interval:   millis(cfg.SampleInterval),
			Jitter:     millis(cfg.MockJitter),
			DropRate:   cfg.MockDropRate,
			LogSamples: cfg.MockLogSamples,
			Seed:       time.Now().UnixNano(),
		}, nil), nil
	case config.TransportMQTT:
		return mqttbridge.New(mqttbridge.Config{
			Broker:      cfg.MQTTBroker,
			ClientID:    clientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Sensors:     cfg.SensorCount,
		}), nil
	case config.TransportSerial:
		return serialbridge.New(serialbridge.Config{
			PortName: cfg.SerialPort,
			BaudRate: uint(cfg.SerialBaudRate),
			Sensors:  cfg.SensorCount,
		}), nil
	case config.TransportSPI:
		return spirig.New(spirig.Config{
			Devices: []spirig.Device{
				{SPIDevice: cfg.SPILowerDevice, CSPin: cfg.SPILowerCSPin},
				{SPIDevice: cfg.SPIUpperDevice, CSPin: cfg.SPIUpperCSPin},
			},
			Interval: millis(cfg.SampleInterval),
		}, nil), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func networkConfig(cfg *config.Config) network.Config {
	delay := millis(cfg.ConnectRetryDelay)
	return network.Config{
		Sensors:            cfg.SensorCount,
		Mounting:           cfg.Mounting,
		TareMode:           cfg.TareMode,
		InvertFlexion:      cfg.InvertFlexion,
		ConnectPolicy:      transport.RetryPolicy{Attempts: cfg.ConnectAttempts, Delay: delay, Multiplier: 1},
		ReconnectPolicy:    transport.RetryPolicy{Attempts: cfg.ReconnectAttempts, Delay: delay, Multiplier: 1},
		StreamingFrequency: cfg.StreamingFrequencyHz,
		ErrorTolerance:     cfg.StreamErrorTolerance,
		Metadata:           cfg.Metadata(time.Time{}),
	}
}

// newNetwork opens the configured transport and wraps it in a network
// service. The caller connects it.
func newNetwork(cfg *config.Config, clientID string) (*network.Service, error) {
	tr, err := openTransport(cfg, clientID)
	if err != nil {
		return nil, err
	}
	svc, err := network.New(tr, networkConfig(cfg), nil)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return svc, nil
}

// connectMQTT connects a plain client for publishing or subscribing.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}
