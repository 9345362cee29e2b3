package config

import "github.com/quadpad/quadpad/internal/cmd"

// LogConfig groups the logging flags shared by all commands.
type LogConfig struct {
	Level   string `help:"Log level (trace, debug, info, warn, error)" default:"info" env:"QUADPAD_LOG_LEVEL"`
	File    string `help:"Log file path (empty logs to stderr only)" env:"QUADPAD_LOG_FILE"`
	RawFile string `help:"USB transfer dump file (trace level dumps to stdout)" env:"QUADPAD_LOG_RAW_FILE"`
}

// CLI is the root Kong command tree.
type CLI struct {
	Log    LogConfig `embed:"" prefix:"log."`
	Config string    `help:"Path to a config file" env:"QUADPAD_CONFIG"`

	Server    cmd.Server        `cmd:"" default:"withargs" help:"Run the controller adapter server"`
	Console   cmd.Console       `cmd:"" help:"Interactive shell against a running server"`
	ConfigGen cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration file utilities"`
	Install   cmd.Install       `cmd:"" help:"Install the server as a system service"`
	Uninstall cmd.Uninstall     `cmd:"" help:"Remove the system service"`
}
