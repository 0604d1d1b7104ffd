// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"

	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/device"
)

// DeviceInfo is implemented by device.Session.
type DeviceInfo interface {
	Info() device.Info
}

// DeviceChecker reports the deck connection. A missing deck is degraded:
// the daemon keeps retrying.
type DeviceChecker struct {
	Source DeviceInfo
}

func (DeviceChecker) Name() string { return "device" }

func (c DeviceChecker) Check(context.Context) CheckResult {
	info := c.Source.Info()
	if !info.Connected {
		return CheckResult{Status: StatusDegraded, Message: "no device connected"}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s connected", info.DeckType),
		Details: map[string]any{
			"deck_type":    info.DeckType,
			"serial":       info.Serial,
			"key_count":    info.KeyCount,
			"session_id":   info.SessionID,
			"connected_at": info.ConnectedAt,
		},
	}
}

// ButtonStatuses is implemented by coordinator.Coordinator.
type ButtonStatuses interface {
	Statuses() []button.Status
}

// ButtonsChecker reports failed button slots as degraded.
type ButtonsChecker struct {
	Source ButtonStatuses
}

func (ButtonsChecker) Name() string { return "buttons" }

func (c ButtonsChecker) Check(context.Context) CheckResult {
	statuses := c.Source.Statuses()
	failed := []int{}
	streaming := 0
	for _, s := range statuses {
		if s.Failed {
			failed = append(failed, s.ID)
		}
		if s.Continuous {
			streaming++
		}
	}
	res := CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d buttons active", len(statuses)),
		Details: map[string]any{
			"active":    len(statuses),
			"failed":    failed,
			"streaming": streaming,
			"buttons":   statuses,
		},
	}
	if len(failed) > 0 {
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("%d of %d buttons failed", len(failed), len(statuses))
	}
	return res
}
