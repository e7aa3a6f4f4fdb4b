// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
)

// RunConsole runs the network in-process and prints the latest angles
// every CONSOLE_LOG_INTERVAL.
func RunConsole(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newNetwork(cfg, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer svc.Disconnect()

	readings, cancel := svc.Readings(1)
	defer cancel()
	go func() {
		for e := range svc.Events() {
			fmt.Println(formatEvent(e))
		}
	}()

	if err := svc.Connect(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(millis(cfg.ConsoleLogInterval))
	defer ticker.Stop()

	var (
		last network.Reading
		have bool
	)
	for {
		select {
		case <-ctx.Done():
			st := svc.Stats()
			monitoring.Logf("console: %d cycles, %d same-cycle overwrites", st.Cycles, st.Overwrites)
			return nil
		case r, ok := <-readings:
			if !ok {
				return nil
			}
			last, have = r, true
		case <-ticker.C:
			if have {
				fmt.Println(formatReading(last))
			}
		}
	}
}
