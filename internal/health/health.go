// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health aggregates component checks into a daemon status report.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/deckfs/internal/log"
)

// Status represents the overall health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Report is the full status of the daemon.
type Report struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	PID       int                    `json:"pid,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    int64                  `json:"uptime_seconds"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) CheckResult
}

func (c CheckerFunc) Name() string                          { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) CheckResult { return c.Fn(ctx) }

// DefaultCheckTimeout bounds a single checker inside Report.
const DefaultCheckTimeout = 2 * time.Second

// worse reports whether a is more severe than b.
func worse(a, b Status) bool {
	rank := func(s Status) int {
		switch s {
		case StatusHealthy:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	return rank(a) > rank(b)
}

// Manager runs the registered checkers.
type Manager struct {
	version      string
	startTime    time.Time
	checkTimeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a manager reporting version.
func NewManager(version string) *Manager {
	return &Manager{
		version:      version,
		startTime:    time.Now(),
		checkTimeout: DefaultCheckTimeout,
	}
}

// RegisterChecker adds a checker. Safe while reports are running.
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, checker)
	m.mu.Unlock()
}

// Report runs every checker concurrently. The overall status is the worst
// individual one. A checker that panics or overruns the timeout counts as
// unhealthy.
func (m *Manager) Report(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	resp := Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(m.startTime).Seconds()),
	}
	if len(checkers) == 0 {
		return resp
	}

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.run(ctx, c)
		}()
	}
	wg.Wait()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		resp.Checks[c.Name()] = results[i]
		if worse(results[i].Status, resp.Status) {
			resp.Status = results[i].Status
		}
	}
	return resp
}

func (m *Manager) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- c.Check(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}
}

// ServeHealth writes the report as JSON. Unhealthy answers 503.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("health")
	resp := m.Report(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}

	logger.Debug().
		Str("event", "health.checked").
		Str("status", string(resp.Status)).
		Msg("health check performed")
}
