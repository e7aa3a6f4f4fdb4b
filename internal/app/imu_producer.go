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
	"sync/atomic"
	"syscall"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/transport"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
)

// publisher sends one MQTT message and waits for it to be handed off.
type publisher func(topic string, qos byte, retained bool, payload []byte) error

func mqttPublisher(client mqtt.Client) publisher {
	return func(topic string, qos byte, retained bool, payload []byte) error {
		token := client.Publish(topic, qos, retained, payload)
		token.Wait()
		return token.Error()
	}
}

// sampleProducer relays a local transport onto the sensor topics read by
// the mqtt transport.
type sampleProducer struct {
	publish publisher
	prefix  string

	published uint64
	failed    uint64
}

func (p *sampleProducer) publishJSON(topic string, qos byte, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		monitoring.Logf("imu_producer: json marshal error (%s): %v", topic, err)
		return
	}
	if err := p.publish(topic, qos, false, payload); err != nil {
		atomic.AddUint64(&p.failed, 1)
		monitoring.Logf("imu_producer: MQTT publish error (%s): %v", topic, err)
		return
	}
	atomic.AddUint64(&p.published, 1)
}

func (p *sampleProducer) publishSample(s transport.Sample) {
	p.publishJSON(mqttbridge.SensorTopic(p.prefix, s.SensorIndex, mqttbridge.LeafQuat), 0, s)
}

func (p *sampleProducer) publishEvent(e transport.Event) {
	if e.SensorIndex < 0 {
		return
	}
	p.publishJSON(mqttbridge.SensorTopic(p.prefix, e.SensorIndex, mqttbridge.LeafStatus), 1, e)
}

func (p *sampleProducer) publishBatch(sensorIndex int, samples []transport.Sample) {
	p.publishJSON(mqttbridge.SensorTopic(p.prefix, sensorIndex, mqttbridge.LeafLog), 1, mqttbridge.LogChunk{Samples: samples})
}

// download runs a log download on the local transport. Batches reach the
// broker through publishBatch; progress and the final chunk are sent here.
func (p *sampleProducer) download(ctx context.Context, dl transport.Downloader, sensors int) error {
	err := dl.Download(ctx, func(sensorIndex int, fraction float64) {
		p.publishJSON(mqttbridge.SensorTopic(p.prefix, sensorIndex, mqttbridge.LeafLog), 1, mqttbridge.LogChunk{Progress: fraction})
	})
	if err != nil {
		return err
	}
	for i := 0; i < sensors; i++ {
		p.publishJSON(mqttbridge.SensorTopic(p.prefix, i, mqttbridge.LeafLog), 1, mqttbridge.LogChunk{Progress: 1, Done: true})
	}
	return nil
}

// RunSampleProducer reads the configured local transport (mock, serial or
// spi) and republishes every sample, status change and downloaded log on
// <prefix>/sensor/<i>/.
func RunSampleProducer(cfg *config.Config) error {
	if cfg.Transport == config.TransportMQTT {
		return fmt.Errorf("imu_producer needs a local transport, TRANSPORT is %q", cfg.Transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openTransport(cfg, "")
	if err != nil {
		return err
	}
	defer src.Close()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDIMUProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	monitoring.Logf("imu_producer: connected to MQTT broker at %s", cfg.MQTTBroker)

	p := &sampleProducer{publish: mqttPublisher(client), prefix: cfg.MQTTTopicPrefix}
	defer src.Subscribe(p.publishSample)()
	defer src.OnBatch(p.publishBatch)()

	policy := transport.RetryPolicy{Attempts: cfg.ConnectAttempts, Delay: millis(cfg.ConnectRetryDelay), Multiplier: 1}
	reconnectPolicy := policy
	reconnectPolicy.Attempts = cfg.ReconnectAttempts
	connect := func(rp transport.RetryPolicy) error {
		return transport.Retry(ctx, clock.New(), rp, func(ctx context.Context, attempt int) error {
			err := src.Connect(ctx)
			if err != nil {
				monitoring.Logf("imu_producer: connect attempt %d failed: %v", attempt, err)
			}
			return err
		})
	}

	var reconnecting atomic.Bool
	go func() {
		for e := range src.Events() {
			p.publishEvent(e)
			if e.Kind != transport.EventLostConnection || !reconnecting.CompareAndSwap(false, true) {
				continue
			}
			monitoring.Logf("imu_producer: %s, reconnecting", e)
			go func() {
				defer reconnecting.Store(false)
				if err := connect(reconnectPolicy); err != nil {
					monitoring.Logf("imu_producer: reconnect failed: %v", err)
				}
			}()
		}
	}()

	if dl, ok := src.(transport.Downloader); ok {
		token := client.Subscribe(mqttbridge.DownloadTopic(cfg.MQTTTopicPrefix), 1, func(_ mqtt.Client, _ mqtt.Message) {
			go func() {
				dctx, cancel := context.WithTimeout(ctx, millis(cfg.DownloadTimeout))
				defer cancel()
				monitoring.Logf("imu_producer: download requested")
				if err := p.download(dctx, dl, cfg.SensorCount); err != nil {
					monitoring.Logf("imu_producer: download failed: %v", err)
				}
			}()
		})
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}

	if err := connect(policy); err != nil {
		return err
	}
	monitoring.Logf("imu_producer: %d sensors streaming on %s/sensor/+/quat", cfg.SensorCount, cfg.MQTTTopicPrefix)

	<-ctx.Done()
	monitoring.Logf("imu_producer: shutting down after %d messages (%d failed)", atomic.LoadUint64(&p.published), atomic.LoadUint64(&p.failed))
	return nil
}
