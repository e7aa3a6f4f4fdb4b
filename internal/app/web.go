// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
	"github.com/relabs-tech/knee_flexion/internal/transport/mqttbridge"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webServer keeps the latest reading received from MQTT and pushes every
// reading to the connected websocket clients.
type webServer struct {
	tare func(cmd string) error

	mu      sync.RWMutex
	last    network.Reading
	have    bool
	clients map[chan []byte]struct{}
}

func newWebServer(tare func(cmd string) error) *webServer {
	return &webServer{tare: tare, clients: make(map[chan []byte]struct{})}
}

// update stores a reading payload and forwards it to the websocket
// clients. Slow clients miss readings.
func (s *webServer) update(payload []byte) error {
	var r network.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.have = true
	for ch := range s.clients {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (s *webServer) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *webServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/angles", s.handleAngles)
	mux.HandleFunc("/api/tare", s.handleTare)
	mux.HandleFunc("/ws/angles", s.handleAnglesWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func (s *webServer) handleAngles(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.have {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.last); err != nil {
		monitoring.Logf("web: json encode error: %v", err)
	}
}

// handleTare forwards a tare request; ?reset=true drops the reference.
func (s *webServer) handleTare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cmd := "capture"
	if reset, _ := strconv.ParseBool(r.URL.Query().Get("reset")); reset {
		cmd = "reset"
	}
	if err := s.tare(cmd); err != nil {
		http.Error(w, fmt.Sprintf("tare request failed: %v", err), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *webServer) handleAnglesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()

	// the read loop only detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					monitoring.Logf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case payload := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				monitoring.Logf("web: websocket write error: %v", err)
				return
			}
		}
	}
}

// RunWeb subscribes to the angle producer and serves the latest reading
// over HTTP and websocket.
func RunWeb(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	monitoring.Logf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	publish := mqttPublisher(client)
	s := newWebServer(func(cmd string) error {
		return publish(mqttbridge.TareTopic(cfg.MQTTTopicPrefix), 1, false, []byte(cmd))
	})

	topic := mqttbridge.AnglesTopic(cfg.MQTTTopicPrefix)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.update(msg.Payload()); err != nil {
			monitoring.Logf("web: MQTT payload unmarshal error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	monitoring.Logf("web: subscribed to MQTT topic %s", topic)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	monitoring.Logf("web: listening on %s", addr)
	return http.ListenAndServe(addr, s.routes())
}
