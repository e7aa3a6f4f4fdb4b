// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/anatomy"
	"github.com/relabs-tech/knee_flexion/internal/logfile"
)

// Transport names accepted by TRANSPORT.
const (
	TransportMock   = "mock"
	TransportMQTT   = "mqtt"
	TransportSerial = "serial"
	TransportSPI    = "spi"
)

// Config holds all application configuration values.
type Config struct {
	// Sensors and angle extraction
	SensorCount   int
	Mounting      anatomy.Mounting
	TareMode      anatomy.TareMode
	InvertFlexion bool
	Transport     string

	// Log alignment
	StreamingFrequencyHz float64
	StreamErrorTolerance float64

	// Connection retries
	ConnectAttempts   int
	ConnectRetryDelay int // milliseconds
	ReconnectAttempts int
	DownloadTimeout   int // milliseconds

	// MQTT
	MQTTBroker              string
	MQTTClientIDProducer    string
	MQTTClientIDIMUProducer string
	MQTTClientIDConsole     string
	MQTTClientIDWeb         string
	MQTTTopicPrefix         string

	// Serial bridge
	SerialPort     string
	SerialBaudRate int

	// SPI bench rig
	SPILowerDevice string
	SPILowerCSPin  string
	SPIUpperDevice string
	SPIUpperCSPin  string

	// Timing
	SampleInterval     int // milliseconds
	ConsoleLogInterval int // milliseconds

	// Mock transport
	MockJitter     int // milliseconds
	MockDropRate   float64
	MockLogSamples int

	// Web Server
	WebServerPort int

	// Logs
	LogDir           string
	Subject          string
	User             string
	Notes            string
	TestType         logfile.TestType
	Timepoint        logfile.Timepoint
	ReplacementType  logfile.ReplacementType
	SurgicalApproach logfile.SurgicalApproach
	OperativeSide    logfile.OperativeSide
	WalkingAid       logfile.WalkingAid
	Armrest          logfile.Armrest
}

// Default returns the values used for keys missing from the file.
func Default() *Config {
	meta := logfile.DefaultMetadata(time.Time{})
	return &Config{
		SensorCount:          2,
		Mounting:             anatomy.MountingStandard,
		TareMode:             anatomy.TareAngles,
		Transport:            TransportMock,
		StreamingFrequencyHz: 25,
		StreamErrorTolerance: 0.25,
		ConnectAttempts:      5,
		ConnectRetryDelay:    5000,
		ReconnectAttempts:    100,
		DownloadTimeout:      120000,

		MQTTBroker:              "tcp://localhost:1883",
		MQTTClientIDProducer:    "knee-producer",
		MQTTClientIDIMUProducer: "knee-imu-producer",
		MQTTClientIDConsole:     "knee-console",
		MQTTClientIDWeb:         "knee-web",
		MQTTTopicPrefix:         "knee",

		SerialPort:     "/dev/ttyUSB0",
		SerialBaudRate: 115200,

		SPILowerDevice: "/dev/spidev0.0",
		SPILowerCSPin:  "GPIO8",
		SPIUpperDevice: "/dev/spidev0.1",
		SPIUpperCSPin:  "GPIO7",

		SampleInterval:     40,
		ConsoleLogInterval: 500,

		MockLogSamples: 250,

		WebServerPort: 8080,

		LogDir:           "logs",
		Subject:          meta.Subject,
		User:             meta.User,
		TestType:         meta.TestType,
		Timepoint:        meta.Timepoint,
		ReplacementType:  meta.ReplacementType,
		SurgicalApproach: meta.SurgicalApproach,
		OperativeSide:    meta.OperativeSide,
		WalkingAid:       meta.WalkingAid,
		Armrest:          meta.Armrest,
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

func parseFloat(key, value string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s must be %g-%g, got %g", key, min, max, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Sensors and angle extraction
	case "SENSOR_COUNT":
		c.SensorCount, err = parseInt(key, value, 2, 8)
	case "MOUNTING":
		c.Mounting, err = anatomy.ParseMounting(value)
	case "TARE_MODE":
		c.TareMode, err = anatomy.ParseTareMode(value)
	case "INVERT_FLEXION":
		c.InvertFlexion, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid INVERT_FLEXION %q: %w", value, err)
		}
	case "TRANSPORT":
		switch value {
		case TransportMock, TransportMQTT, TransportSerial, TransportSPI:
			c.Transport = value
		default:
			err = fmt.Errorf("TRANSPORT must be mock, mqtt, serial or spi, got %q", value)
		}

	// Log alignment
	case "STREAMING_FREQUENCY_HZ":
		c.StreamingFrequencyHz, err = parseFloat(key, value, 1, 1000)
	case "STREAM_ERROR_TOLERANCE":
		c.StreamErrorTolerance, err = parseFloat(key, value, 0, 1)

	// Connection retries
	case "CONNECT_ATTEMPTS":
		c.ConnectAttempts, err = parseInt(key, value, 1, 1000)
	case "CONNECT_RETRY_DELAY_MS":
		c.ConnectRetryDelay, err = parseInt(key, value, 0, 600000)
	case "RECONNECT_ATTEMPTS":
		c.ReconnectAttempts, err = parseInt(key, value, 1, 100000)
	case "DOWNLOAD_TIMEOUT_MS":
		c.DownloadTimeout, err = parseInt(key, value, 1, 3600000)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_IMU_PRODUCER":
		c.MQTTClientIDIMUProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = strings.TrimSuffix(value, "/")

	// Serial bridge
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value, 300, 4000000)

	// SPI bench rig
	case "SPI_LOWER_DEVICE":
		c.SPILowerDevice = value
	case "SPI_LOWER_CS_PIN":
		c.SPILowerCSPin = value
	case "SPI_UPPER_DEVICE":
		c.SPIUpperDevice = value
	case "SPI_UPPER_CS_PIN":
		c.SPIUpperCSPin = value

	// Timing
	case "SAMPLE_INTERVAL_MS":
		c.SampleInterval, err = parseInt(key, value, 1, 10000)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value, 1, 3600000)

	// Mock transport
	case "MOCK_JITTER_MS":
		c.MockJitter, err = parseInt(key, value, 0, 1000)
	case "MOCK_DROP_RATE":
		c.MockDropRate, err = parseFloat(key, value, 0, 1)
	case "MOCK_LOG_SAMPLES":
		c.MockLogSamples, err = parseInt(key, value, 0, 1000000)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Logs
	case "LOG_DIR":
		c.LogDir = value
	case "SUBJECT":
		c.Subject = value
	case "USER":
		c.User = value
	case "NOTES":
		c.Notes = value
	case "TEST_TYPE":
		c.TestType, err = logfile.ParseTestType(value)
	case "TIMEPOINT":
		c.Timepoint, err = logfile.ParseTimepoint(value)
	case "REPLACEMENT_TYPE":
		c.ReplacementType, err = logfile.ParseReplacementType(value)
	case "SURGICAL_APPROACH":
		c.SurgicalApproach, err = logfile.ParseSurgicalApproach(value)
	case "OPERATIVE_SIDE":
		c.OperativeSide, err = logfile.ParseOperativeSide(value)
	case "WALKING_AID":
		c.WalkingAid, err = logfile.ParseWalkingAid(value)
	case "ARMREST":
		c.Armrest, err = logfile.ParseArmrest(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks the fields that depend on each other.
func (c *Config) validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for the mqtt transport")
		}
	case TransportSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for the serial transport")
		}
	case TransportSPI:
		if c.SensorCount != 2 {
			return fmt.Errorf("the spi transport drives exactly 2 sensors, SENSOR_COUNT is %d", c.SensorCount)
		}
		if c.SPILowerDevice == "" || c.SPIUpperDevice == "" {
			return fmt.Errorf("SPI_LOWER_DEVICE and SPI_UPPER_DEVICE are required for the spi transport")
		}
	}
	if c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX must not be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("LOG_DIR must not be empty")
	}
	return nil
}

// Metadata returns the log metadata defaults, created at created.
func (c *Config) Metadata(created time.Time) logfile.Metadata {
	return logfile.Metadata{
		CreationDate:     created,
		Subject:          c.Subject,
		User:             c.User,
		Notes:            c.Notes,
		TestType:         c.TestType,
		Timepoint:        c.Timepoint,
		ReplacementType:  c.ReplacementType,
		SurgicalApproach: c.SurgicalApproach,
		OperativeSide:    c.OperativeSide,
		WalkingAid:       c.WalkingAid,
		Armrest:          c.Armrest,
	}
}
