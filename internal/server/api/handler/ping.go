package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/internal/server/api"
)

// Ping returns a handler answering with server identity and version.
func Ping(version string) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := json.Marshal(apitypes.PingResponse{Server: "quadpad", Version: version})
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
