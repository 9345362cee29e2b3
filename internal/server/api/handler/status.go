package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/acquisition"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/pad"
)

// Status returns a handler reporting the full adapter state: the active
// mask, the reconfiguration state and the last decoded sample per port.
// loop may be nil when no acquisition loop runs (stats read as zero).
func Status(mgr *composite.Manager, cells *pad.Cells, loop *acquisition.Loop) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		mask := mgr.ActiveMask()
		ports := make([]apitypes.PortStatus, pad.NumPorts)
		for port := range ports {
			s := cells[port].Load()
			ports[port] = apitypes.PortStatus{
				Port:       port,
				Connected:  s.Connected,
				Enumerated: mask&(1<<port) != 0,
				X:          s.X,
				Y:          s.Y,
				Buttons:    s.Buttons,
			}
		}
		payload := apitypes.StatusResponse{
			Mask:          mask,
			Reconfiguring: mgr.Reconfiguring(),
			Cycles:        mgr.Cycles(),
			Ports:         ports,
		}
		if loop != nil {
			stats := loop.Stats()
			payload.Stats = apitypes.LoopStats{
				Ticks:           stats.Ticks,
				Reports:         stats.Reports,
				PresenceChanges: stats.PresenceChanges,
			}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
