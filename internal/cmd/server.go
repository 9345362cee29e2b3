package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/acquisition"
	"github.com/quadpad/quadpad/internal/configpaths"
	"github.com/quadpad/quadpad/internal/console"
	"github.com/quadpad/quadpad/internal/log"
	"github.com/quadpad/quadpad/internal/server/api"
	"github.com/quadpad/quadpad/internal/server/api/auth"
	"github.com/quadpad/quadpad/internal/server/api/handler"
	"github.com/quadpad/quadpad/internal/server/usb"
	"github.com/quadpad/quadpad/internal/syslog"
	"github.com/quadpad/quadpad/internal/util"
	"github.com/quadpad/quadpad/internal/watchdog"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/sampler"
)

const keyFileName = "quadpad.key.txt"

// Version is stamped at build time.
var Version = "dev"

type Server struct {
	UsbServerConfig usb.ServerConfig `embed:"" prefix:"usb."`
	ApiServerConfig api.ServerConfig `embed:"" prefix:"api."`

	Backend           string        `help:"Sampling backend: sim (random walk) or feed (API-driven)" enum:"sim,feed" default:"sim" env:"QUADPAD_BACKEND"`
	SimSeed           int64         `help:"Seed for the sim backend (0 = time-based)" default:"0" env:"QUADPAD_SIM_SEED"`
	Pool              int           `help:"Gamepad interfaces reserved in the descriptor pool" default:"4" env:"QUADPAD_POOL"`
	SettleDelay       time.Duration `help:"Link settle delay between detach and re-attach" default:"100ms" env:"QUADPAD_SETTLE_DELAY"`
	Tick              time.Duration `help:"Controller acquisition interval" default:"10ms" env:"QUADPAD_TICK"`
	WatchdogTimeout   time.Duration `help:"Acquisition watchdog timeout (0 disables)" default:"3s" env:"QUADPAD_WATCHDOG_TIMEOUT"`
	ConnectionTimeout time.Duration `help:"ConnectionTimeout operation timeout" default:"30s" env:"QUADPAD_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger, ring *syslog.Ring) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger, ring)
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger, ring *syslog.Ring) error {
	s.UsbServerConfig.ConnectionTimeout = s.ConnectionTimeout
	s.ApiServerConfig.ConnectionTimeout = s.ConnectionTimeout

	logger.Info("Starting QuadPad adapter", "addr", s.UsbServerConfig.Addr, "backend", s.Backend)

	if err := s.loadOrGenerateKey(logger); err != nil {
		return err
	}

	cells := &pad.Cells{}
	usbSrv := usb.New(s.UsbServerConfig, logger, rawLogger, cells)
	mgr := composite.NewManager(logger, usbSrv, composite.ManagerConfig{
		SettleDelay: s.SettleDelay,
		Pool:        s.Pool,
	})
	cons := console.New(logger, mgr, cells, ring)
	usbSrv.Bind(mgr, cons)

	var backend sampler.Backend
	var feed *sampler.Feed
	switch s.Backend {
	case "feed":
		feed = sampler.NewFeed()
		backend = feed
	default:
		backend = sampler.NewSim(s.SimSeed)
	}

	usbErrCh := make(chan error, 1)
	go func() {
		usbErrCh <- usbSrv.ListenAndServe()
	}()

	select {
	case err := <-usbErrCh:
		return err
	case <-usbSrv.Ready():
	}

	var hb *watchdog.Heartbeat
	wdExpired := make(chan struct{}, 1)
	if s.WatchdogTimeout > 0 {
		wd := watchdog.New(logger, s.WatchdogTimeout, func(name string) {
			logger.Error("watchdog expired, shutting down", "loop", name)
		})
		hb = wd.Register("acquisition")
		go func() {
			wd.Run(ctx)
			select {
			case <-ctx.Done():
			default:
				wdExpired <- struct{}{}
			}
		}()
	}

	loop := acquisition.New(logger, backend, mgr, cells, s.Tick, hb)
	go loop.Run(ctx)

	if s.ApiServerConfig.Addr == "" {
		logger.Error("API server address must be set (default :3242).")
		return fmt.Errorf("API server address must be set (default :3242)")
	}

	apiSrv := api.New(s.ApiServerConfig.Addr, s.ApiServerConfig, logger)
	r := apiSrv.Router()
	r.Register("ping", handler.Ping(Version))
	r.Register("status", handler.Status(mgr, cells, loop))
	r.Register("mask", handler.Mask(mgr))
	r.Register("pad/{port}/enable", handler.PadEnable(mgr))
	r.Register("pad/{port}/disable", handler.PadDisable(mgr))
	r.Register("pad/{port}/set", handler.PadSet(feed))
	r.Register("log", handler.LogTail(ring))

	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		if util.IsRunFromGUI() {
			fmt.Println("Press any key to exit...")
			var b []byte = make([]byte, 1)
			_, _ = os.Stdin.Read(b)
		}
		return err
	}

	if util.IsRunFromGUI() {
		go (func() {
			time.Sleep(250 * time.Millisecond)
			util.HideConsoleWindow()
		})()
	}

	select {
	case <-ctx.Done():
		apiSrv.Close()
		_ = usbSrv.Close()
		<-usbErrCh
		return nil
	case <-wdExpired:
		apiSrv.Close()
		_ = usbSrv.Close()
		<-usbErrCh
		return fmt.Errorf("acquisition loop stalled for %s", s.WatchdogTimeout)
	case err := <-usbErrCh:
		apiSrv.Close()
		return err
	}
}

func (s *Server) loadOrGenerateKey(logger *slog.Logger) error {
	keyFileDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("failed to resolve key file path: %w", err)
	}
	keyFilePath := path.Join(keyFileDir, keyFileName)
	if pwd, err := os.ReadFile(keyFilePath); err == nil {
		s.ApiServerConfig.Password = strings.TrimSpace(string(pwd))
		return nil
	}
	newPwd, err := auth.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate new API password: %w", err)
	}
	if err := os.MkdirAll(keyFileDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config dir for key file: %w", err)
	}
	if err := os.WriteFile(keyFilePath, []byte(newPwd), 0o600); err != nil {
		return fmt.Errorf("failed to write new API password to file: %w", err)
	}
	s.ApiServerConfig.Password = newPwd
	logger.Info("Generated API server password", "path", keyFilePath)
	logger.Info("-------------------------------------")
	logger.Info("Your QuadPad API server password is:")
	logger.Info("-------------------------------------")
	logger.Info(newPwd)
	logger.Info("-------------------------------------")
	logger.Info("You can change this password at any time by editing the file")
	return nil
}
