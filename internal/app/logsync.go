// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/knee_flexion/internal/config"
	"github.com/relabs-tech/knee_flexion/internal/logfile"
	"github.com/relabs-tech/knee_flexion/internal/monitoring"
	"github.com/relabs-tech/knee_flexion/internal/network"
)

var errNothingDownloaded = errors.New("logsync: sensors returned no aligned samples")

// syncLogs downloads the sensor logs through svc and saves the aligned
// record in store. Progress is written to out as a percentage.
func syncLogs(ctx context.Context, svc *network.Service, store *logfile.Store, out io.Writer) (string, error) {
	last := -1
	rec, err := svc.DownloadLogs(ctx, func(fraction float64) {
		pct := int(fraction * 100)
		if pct != last {
			last = pct
			fmt.Fprintf(out, "\rdownloading %3d%%", pct)
		}
	})
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", errNothingDownloaded
	}
	return store.Save(rec)
}

// RunLogSync downloads, aligns and stores the sensors' on-board logs.
func RunLogSync(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := logfile.NewStore(cfg.LogDir)
	if err != nil {
		return err
	}

	svc, err := newNetwork(cfg, cfg.MQTTClientIDConsole+"-logsync")
	if err != nil {
		return err
	}
	defer svc.Disconnect()

	go func() {
		for e := range svc.Events() {
			monitoring.Logf("logsync: event %s", e)
		}
	}()

	if err := svc.Connect(ctx); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, millis(cfg.DownloadTimeout))
	defer cancel()
	path, err := syncLogs(dctx, svc, store, os.Stdout)
	if err != nil {
		return err
	}
	monitoring.Logf("logsync: saved %s", path)
	return nil
}
