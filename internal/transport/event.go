// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"fmt"
	"time"
)

// EventKind tags a connection event.
type EventKind int

const (
	EventConnectingInitiated EventKind = iota
	EventConnected
	EventOrdered
	EventDisconnected
	EventLostConnection
	EventError
)

var eventNames = map[EventKind]string{
	EventConnectingInitiated: "connecting",
	EventConnected:           "connected",
	EventOrdered:             "ordered",
	EventDisconnected:        "disconnected",
	EventLostConnection:      "lost_connection",
	EventError:               "error",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// ParseEventKind is the inverse of String.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *EventKind) UnmarshalText(b []byte) error {
	v, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// AllSensors is the SensorIndex of events that concern the whole network.
const AllSensors = -1

// Event is a connection state change. Description is set for EventError
// and, optionally, for the other kinds.
type Event struct {
	Kind        EventKind `json:"kind"`
	SensorIndex int       `json:"sensor"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(kind EventKind, sensorIndex int, description string) Event {
	return Event{Kind: kind, SensorIndex: sensorIndex, Description: description, Timestamp: time.Now()}
}

// Err returns the event as a NetworkError when it reports a failure.
func (e Event) Err() error {
	if e.Kind != EventError && e.Kind != EventLostConnection {
		return nil
	}
	return &NetworkError{Description: e.Description, Timestamp: e.Timestamp}
}

func (e Event) String() string {
	if e.Description == "" {
		return fmt.Sprintf("%s sensor=%d", e.Kind, e.SensorIndex)
	}
	return fmt.Sprintf("%s sensor=%d: %s", e.Kind, e.SensorIndex, e.Description)
}

// NetworkError is a transport failure reported to the user.
type NetworkError struct {
	Description string
	Timestamp   time.Time
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Description, e.Timestamp.Format(time.RFC3339))
}
