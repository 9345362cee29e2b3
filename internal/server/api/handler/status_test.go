package handler_test

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpad/quadpad/apiclient"
	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/internal/server/api/handler"
	handlerTest "github.com/quadpad/quadpad/internal/testing"
	"github.com/quadpad/quadpad/pad"
)

func newStableManager(t *testing.T, ports ...int) *composite.Manager {
	t.Helper()
	mgr := composite.NewManager(slog.Default(), composite.NopLink{}, composite.ManagerConfig{SettleDelay: time.Millisecond})
	for _, port := range ports {
		mgr.HandlePresence(port, true)
	}
	require.Eventually(t, func() bool {
		mgr.Poll()
		return !mgr.Reconfiguring()
	}, 2*time.Second, time.Millisecond)
	return mgr
}

func TestStatus(t *testing.T) {
	cells := &pad.Cells{}
	cells[1].Store(pad.State{Connected: true, X: -5, Y: 12, Buttons: pad.ButtonA | pad.ButtonStart})
	mgr := newStableManager(t, 1)

	addr, done := handlerTest.StartAPIServer(t, func(r *api.Router, apiSrv *api.Server) {
		r.Register("status", handler.Status(mgr, cells, nil))
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("status", nil, nil)
	assert.NoError(t, err)

	var resp apitypes.StatusResponse
	assert.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, uint8(0b0010), resp.Mask)
	assert.False(t, resp.Reconfiguring)
	assert.Len(t, resp.Ports, pad.NumPorts)
	assert.Equal(t, apitypes.PortStatus{
		Port:       1,
		Connected:  true,
		Enumerated: true,
		X:          -5,
		Y:          12,
		Buttons:    uint8(pad.ButtonA | pad.ButtonStart),
	}, resp.Ports[1])
	assert.False(t, resp.Ports[0].Connected)
	assert.False(t, resp.Ports[0].Enumerated)
}
