package api

import "time"

// ServerConfig represents the control API configuration.
type ServerConfig struct {
	Addr              string        `help:"API server listen address" default:":3242" env:"QUADPAD_API_ADDR"`
	Password          string        `kong:"-"`
	ConnectionTimeout time.Duration `kong:"-"`
}
