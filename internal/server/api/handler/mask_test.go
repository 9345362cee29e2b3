package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quadpad/quadpad/apiclient"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/internal/server/api/handler"
	handlerTest "github.com/quadpad/quadpad/internal/testing"
)

func TestMask(t *testing.T) {
	mgr := newStableManager(t, 0, 2)

	addr, done := handlerTest.StartAPIServer(t, func(r *api.Router, apiSrv *api.Server) {
		r.Register("mask", handler.Mask(mgr))
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("mask", nil, nil)
	assert.NoError(t, err)
	assert.Equal(t, `{"mask":5}`, line)
}
