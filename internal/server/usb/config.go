package usb

import "time"

// ServerConfig represents the USB/IP transport configuration.
type ServerConfig struct {
	Addr              string        `help:"USB/IP server listen address" default:":3240" env:"QUADPAD_USB_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
}
