package cmd

import "log/slog"

// Install registers the server as a system service.
type Install struct{}

func (i *Install) Run(logger *slog.Logger) error {
	return install(logger)
}

// Uninstall removes the system service.
type Uninstall struct{}

func (u *Uninstall) Run(logger *slog.Logger) error {
	return uninstall(logger)
}
