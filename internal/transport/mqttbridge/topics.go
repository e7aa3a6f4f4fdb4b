// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mqttbridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic leaves under <prefix>/sensor/<index>/.
const (
	LeafQuat   = "quat"
	LeafStatus = "status"
	LeafLog    = "log"
)

// SensorTopic is <prefix>/sensor/<index>/<leaf>.
func SensorTopic(prefix string, index int, leaf string) string {
	return fmt.Sprintf("%s/sensor/%d/%s", prefix, index, leaf)
}

// SensorWildcard matches leaf for every sensor.
func SensorWildcard(prefix, leaf string) string {
	return prefix + "/sensor/+/" + leaf
}

// DownloadTopic carries download requests to the sensor gateway.
func DownloadTopic(prefix string) string {
	return prefix + "/cmd/download"
}

// AnglesTopic carries network readings published by the angle producer.
func AnglesTopic(prefix string) string {
	return prefix + "/angles"
}

// EventsTopic carries network events published by the angle producer.
func EventsTopic(prefix string) string {
	return prefix + "/events"
}

// TareTopic carries tare requests to the angle producer. The payload
// "reset" drops the reference; anything else captures a new one.
func TareTopic(prefix string) string {
	return prefix + "/cmd/tare"
}

// parseSensorTopic extracts the sensor index and leaf from a sensor topic.
func parseSensorTopic(prefix, topic string) (int, string, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/sensor/")
	if !ok {
		return 0, "", fmt.Errorf("topic %q outside %s/sensor", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("topic %q: want %s/sensor/<index>/<leaf>", topic, prefix)
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil || idx < 0 {
		return 0, "", fmt.Errorf("topic %q: bad sensor index %q", topic, parts[0])
	}
	return idx, parts[1], nil
}
