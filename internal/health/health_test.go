// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/device"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock"}
}

type fakeDevice struct{ info device.Info }

func (f fakeDevice) Info() device.Info { return f.info }

type fakeButtons []button.Status

func (f fakeButtons) Statuses() []button.Status { return f }

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Report_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Report(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Report_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Report(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestDeviceChecker(t *testing.T) {
	c := DeviceChecker{Source: fakeDevice{}}
	assert.Equal(t, "device", c.Name())
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	c.Source = fakeDevice{info: device.Info{Connected: true, DeckType: "Stream Deck MK.2", KeyCount: 15}}
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 15, res.Details["key_count"])
	assert.Contains(t, res.Message, "Stream Deck MK.2")
}

func TestButtonsChecker(t *testing.T) {
	c := ButtonsChecker{Source: fakeButtons{
		{ID: 1, Dir: "/cfg/01_a"},
		{ID: 2, Dir: "/cfg/02_b", Failed: true},
		{ID: 4, Dir: "/cfg/04_d", Continuous: true},
	}}
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, []int{2}, res.Details["failed"])
	assert.Equal(t, 1, res.Details["streaming"])

	c.Source = fakeButtons{{ID: 1}}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "device", status: StatusDegraded})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})
	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "status.json")

	_, err := ReadStatus(path)
	assert.ErrorIs(t, err, ErrNoStatus)

	want := Report{
		Status:    StatusDegraded,
		Version:   "v1.0.0",
		PID:       42,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Uptime:    7,
		Checks: map[string]CheckResult{
			"device": {Status: StatusDegraded, Message: "no device connected"},
		},
	}
	require.NoError(t, WriteStatus(path, want))
	got, err := ReadStatus(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRunStatusWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "device", status: StatusHealthy})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunStatusWriter(ctx, m, path, 20*time.Millisecond, 1234) }()

	require.Eventually(t, func() bool {
		_, err := ReadStatus(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, got.PID)
	if diff := cmp.Diff(StatusHealthy, got.Status); diff != "" {
		t.Fatal(diff)
	}
	assert.True(t, cmp.Equal(map[string]CheckResult{"device": {Status: StatusHealthy, Message: "mock"}}, got.Checks, cmpopts.EquateEmpty()))
}

func TestPerformStartupChecks(t *testing.T) {
	root := filepath.Join(t.TempDir(), "streamdeck")
	require.NoError(t, PerformStartupChecks(root, config.DefaultInterpreters))
	fi, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.ErrorIs(t, PerformStartupChecks(file, nil), config.ErrConfigRoot)
}

func TestManager_Report_PanicAndTimeoutAreUnhealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.checkTimeout = 50 * time.Millisecond
	m.RegisterChecker(&mockChecker{name: "ok", status: StatusHealthy})
	m.RegisterChecker(CheckerFunc{CheckName: "boom", Fn: func(context.Context) CheckResult {
		panic("bad checker")
	}})
	m.RegisterChecker(CheckerFunc{CheckName: "slow", Fn: func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: "late"}
	}})

	resp := m.Report(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["ok"].Status)
	assert.Contains(t, resp.Checks["boom"].Error, "bad checker")
	assert.Equal(t, StatusUnhealthy, resp.Checks["slow"].Status)
	assert.NotEmpty(t, resp.Checks["slow"].Error)
}
