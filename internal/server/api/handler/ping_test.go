package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quadpad/quadpad/apiclient"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/internal/server/api/handler"
	handlerTest "github.com/quadpad/quadpad/internal/testing"
)

func TestPing(t *testing.T) {
	addr, done := handlerTest.StartAPIServer(t, func(r *api.Router, apiSrv *api.Server) {
		r.Register("ping", handler.Ping("1.2.3"))
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("ping", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, `{"server":"quadpad","version":"1.2.3"}`, line)
}
