package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/internal/syslog"
)

// LogTail returns a handler dumping the in-memory log ring, oldest
// line first.
func LogTail(ring *syslog.Ring) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := json.Marshal(apitypes.LogResponse{Lines: ring.Lines()})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
