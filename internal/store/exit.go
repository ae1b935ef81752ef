// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

package store

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Ephemeral databases must not outlive the process. Close() is the normal
// cleanup path; this registry catches SIGINT/SIGTERM so interrupted runs
// also remove their temp files. SIGKILL cannot be caught and may leave a
// file behind.
var ephemerals = struct {
	mu    sync.Mutex
	paths map[string]struct{}
	armed bool
}{paths: make(map[string]struct{})}

func registerEphemeral(path string) {
	ephemerals.mu.Lock()
	defer ephemerals.mu.Unlock()

	ephemerals.paths[path] = struct{}{}
	if ephemerals.armed {
		return
	}
	ephemerals.armed = true

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		removeAllEphemerals()
		// Restore default disposition and re-deliver so the process
		// still dies with the correct status.
		signal.Stop(ch)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()
}

func unregisterEphemeral(path string) {
	ephemerals.mu.Lock()
	defer ephemerals.mu.Unlock()
	delete(ephemerals.paths, path)
}

func removeAllEphemerals() {
	ephemerals.mu.Lock()
	defer ephemerals.mu.Unlock()
	for path := range ephemerals.paths {
		_ = os.Remove(path)
		_ = os.Remove(path + ".wal")
		delete(ephemerals.paths, path)
	}
}
