package handler

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/server/api"
	apierror "github.com/quadpad/quadpad/internal/server/api/error"
	"github.com/quadpad/quadpad/pad"
)

func parsePort(params map[string]string) (int, error) {
	portStr, ok := params["port"]
	if !ok {
		return 0, apierror.ErrBadRequest("missing port parameter")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, apierror.ErrBadRequest(fmt.Sprintf("invalid port: %v", err))
	}
	if port < 0 || port >= pad.NumPorts {
		return 0, apierror.ErrBadRequest(fmt.Sprintf("port %d out of range 0-%d", port, pad.NumPorts-1))
	}
	return port, nil
}

// PadEnable returns a handler forcing a port into the exported set.
// The change is picked up by the sampling loop on its next tick.
func PadEnable(mgr *composite.Manager) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		port, err := parsePort(req.Params)
		if err != nil {
			return err
		}
		if err := mgr.Enable(port); err != nil {
			return apierror.ErrInternal(err.Error())
		}
		logger.Info("pad enable requested", "port", port)
		return nil
	}
}

// PadDisable returns a handler forcing a port out of the exported set.
func PadDisable(mgr *composite.Manager) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		port, err := parsePort(req.Params)
		if err != nil {
			return err
		}
		if err := mgr.Disable(port); err != nil {
			return apierror.ErrInternal(err.Error())
		}
		logger.Info("pad disable requested", "port", port)
		return nil
	}
}
