// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScriptStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_script_starts_total",
		Help: "Script launches by role and result",
	}, []string{"role", "result"})

	ScriptExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_script_exits_total",
		Help: "Observed script exits by role and outcome",
	}, []string{"role", "outcome"})

	ScriptRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_script_restarts_total",
		Help: "Crash restarts by role and result (restarted, crash_loop, failed, stopped)",
	}, []string{"role", "result"})

	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_proc_terminate_total",
		Help: "Signals sent to script process groups by signal and result",
	}, []string{"signal", "result"})

	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deckfs_proc_wait_total",
		Help: "Outcomes of waiting for a terminated process group",
	}, []string{"outcome"})
)

func IncScriptStart(role, result string) {
	ScriptStartsTotal.WithLabelValues(role, result).Inc()
}

func IncScriptExit(role string, exitCode int) {
	outcome := "success"
	if exitCode != 0 {
		outcome = "failure"
	}
	ScriptExitsTotal.WithLabelValues(role, outcome).Inc()
}

func IncScriptRestart(role, result string) {
	ScriptRestartsTotal.WithLabelValues(role, result).Inc()
}

func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
