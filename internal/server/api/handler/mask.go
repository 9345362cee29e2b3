package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/server/api"
)

// Mask returns a handler reporting the currently exported port mask.
func Mask(mgr *composite.Manager) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := json.Marshal(apitypes.MaskResponse{Mask: mgr.ActiveMask()})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
