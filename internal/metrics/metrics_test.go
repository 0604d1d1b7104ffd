// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestScriptExitOutcome(t *testing.T) {
	ok := testutil.ToFloat64(ScriptExitsTotal.WithLabelValues("action", "success"))
	bad := testutil.ToFloat64(ScriptExitsTotal.WithLabelValues("action", "failure"))

	IncScriptExit("action", 0)
	IncScriptExit("action", 2)
	IncScriptExit("action", -1)

	assert.Equal(t, ok+1, testutil.ToFloat64(ScriptExitsTotal.WithLabelValues("action", "success")))
	assert.Equal(t, bad+2, testutil.ToFloat64(ScriptExitsTotal.WithLabelValues("action", "failure")))
}

func TestBusDeliveryUnknownType(t *testing.T) {
	before := testutil.ToFloat64(BusDeliveriesTotal.WithLabelValues("unknown", "immediate"))
	IncBusDelivery("", "immediate")
	assert.Equal(t, before+1, testutil.ToFloat64(BusDeliveriesTotal.WithLabelValues("unknown", "immediate")))
}

func TestDeviceConnectedGauge(t *testing.T) {
	SetDeviceConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(DeviceConnected))
	SetDeviceConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(DeviceConnected))
}
