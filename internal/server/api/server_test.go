package api_test

import (
	"encoding/json"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadpad/quadpad/apiclient"
	"github.com/quadpad/quadpad/apitypes"
	"github.com/quadpad/quadpad/internal/server/api"
	th "github.com/quadpad/quadpad/internal/testing"
)

func TestDispatchWithParamsAndPayload(t *testing.T) {
	addr, done := th.StartAPIServer(t, func(r *api.Router, _ *api.Server) {
		r.Register("pad/{port}/set", func(req *api.Request, res *api.Response, _ *slog.Logger) error {
			res.JSON = `{"port":"` + req.Params["port"] + `","payload":"` + req.Payload + `"}`
			return nil
		})
	})
	defer done()

	resp := th.ExecCmd(t, addr, "pad/2/set {\"x\":1}")
	assert.JSONEq(t, `{"port":"2","payload":"{\"x\":1}"}`, resp)
}

func TestUnknownPath(t *testing.T) {
	addr, done := th.StartAPIServer(t, nil)
	defer done()

	var apiErr apitypes.ApiError
	require.NoError(t, json.Unmarshal([]byte(th.ExecCmd(t, addr, "bogus")), &apiErr))
	assert.Equal(t, 404, apiErr.Status)
	assert.Contains(t, apiErr.Detail, "bogus")
}

func TestEmptyRequest(t *testing.T) {
	addr, done := th.StartAPIServer(t, nil)
	defer done()

	var apiErr apitypes.ApiError
	require.NoError(t, json.Unmarshal([]byte(th.ExecCmd(t, addr, "")), &apiErr))
	assert.Equal(t, 400, apiErr.Status)
}

func startSecureServer(t *testing.T, password string) (addr string, done func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = ln.Addr().String()
	_ = ln.Close()

	apiSrv := api.New(addr, api.ServerConfig{Password: password}, slog.Default())
	apiSrv.Router().Register("ping", func(_ *api.Request, res *api.Response, _ *slog.Logger) error {
		res.JSON = `{"server":"quadpad"}`
		return nil
	})
	require.NoError(t, apiSrv.Start())
	return addr, apiSrv.Close
}

func TestPasswordAuth(t *testing.T) {
	addr, done := startSecureServer(t, "hunter2")
	defer done()

	t.Run("plaintext refused", func(t *testing.T) {
		var apiErr apitypes.ApiError
		require.NoError(t, json.Unmarshal([]byte(th.ExecCmd(t, addr, "ping")), &apiErr))
		assert.Equal(t, 401, apiErr.Status)
	})

	t.Run("wrong password refused", func(t *testing.T) {
		tr := apiclient.NewTransportWithPassword(addr, "nope")
		_, err := tr.Do("ping", nil, nil)
		require.Error(t, err)
	})

	t.Run("correct password", func(t *testing.T) {
		tr := apiclient.NewTransportWithPassword(addr, "hunter2")
		resp, err := tr.Do("ping", nil, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"server":"quadpad"}`, resp)
	})
}

func TestNoPasswordStaysPlaintext(t *testing.T) {
	addr, done := startSecureServer(t, "")
	defer done()

	resp := th.ExecCmd(t, addr, "ping")
	assert.JSONEq(t, `{"server":"quadpad"}`, resp)
}
