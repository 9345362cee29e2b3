package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/internal/server/api"
	apierror "github.com/quadpad/quadpad/internal/server/api/error"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/sampler"
)

// PadSet returns a handler injecting controller samples into a feed
// backend. Raw takes precedence over the decoded fields. feed is nil
// when the server runs on a hardware or simulated backend, in which
// case injection is refused.
func PadSet(feed *sampler.Feed) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		if feed == nil {
			return apierror.ErrConflict("sample injection requires the feed backend")
		}
		port, err := parsePort(req.Params)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var setReq apitypes.PadSetRequest
		if err := json.Unmarshal([]byte(req.Payload), &setReq); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}

		if setReq.Raw != nil {
			feed.Set(port, pad.RawSample(*setReq.Raw))
			logger.Info("pad sample injected", "port", port, "raw", fmt.Sprintf("%#08x", *setReq.Raw))
			return nil
		}

		s := pad.Decode(feed.Sample()[port])
		if setReq.Connected != nil {
			s.Connected = *setReq.Connected
		}
		if setReq.X != nil {
			s.X = *setReq.X
		}
		if setReq.Y != nil {
			s.Y = *setReq.Y
		}
		if setReq.Buttons != nil {
			s.Buttons = *setReq.Buttons
		}
		feed.SetState(port, s)
		logger.Info("pad state injected", "port", port, "connected", s.Connected)
		return nil
	}
}
