// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
	"github.com/relabs-tech/knee_flexion/internal/transport"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
)

func formatReading(r network.Reading) string {
	return fmt.Sprintf("[ANGLES] FLEX=%7.2f  ROT=%7.2f  VAR=%7.2f", r.Angles.Flexion, r.Angles.Rotation, r.Angles.Varus)
}

func formatEvent(e transport.Event) string {
	sensor := "all"
	if e.SensorIndex != transport.AllSensors {
		sensor = fmt.Sprint(e.SensorIndex)
	}
	line := fmt.Sprintf("[EVENT]  %s sensor=%s", e.Kind, sensor)
	if e.Description != "" {
		line += ": " + e.Description
	}
	return line
}

func RunConsoleMQTT(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	monitoring.Logf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	anglesTopic := mqttbridge.AnglesTopic(cfg.MQTTTopicPrefix)
	anglesToken := client.Subscribe(anglesTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r network.Reading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			monitoring.Logf("console: angles unmarshal error: %v", err)
			return
		}
		fmt.Println(formatReading(r))
	})
	anglesToken.Wait()
	if anglesToken.Error() != nil {
		return anglesToken.Error()
	}
	monitoring.Logf("console: subscribed to %s", anglesTopic)

	eventsTopic := mqttbridge.EventsTopic(cfg.MQTTTopicPrefix)
	eventsToken := client.Subscribe(eventsTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var e transport.Event
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			monitoring.Logf("console: event unmarshal error: %v", err)
			return
		}
		fmt.Println(formatEvent(e))
	})
	eventsToken.Wait()
	if eventsToken.Error() != nil {
		return eventsToken.Error()
	}
	monitoring.Logf("console: subscribed to %s", eventsTopic)

	// Wait for Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	monitoring.Logf("console: shutting down")
	client.Disconnect(250)
	return nil
}
