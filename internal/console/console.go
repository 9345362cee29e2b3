// Package console implements the line console reachable over the CDC
// serial channel: a prompt with single-letter commands for inspecting
// port state, toggling ports, and replaying the log ring.
package console

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/syslog"
	"github.com/quadpad/quadpad/pad"
)

const (
	prompt     = "> "
	maxLineLen = 64
	maxPending = 32 * 1024
)

// Console accumulates host keystrokes into lines and queues command
// output for the host to drain. Feed and Drain are called from the USB
// transport goroutines; command handlers only touch lock-free accessors
// on their collaborators.
type Console struct {
	log     *slog.Logger
	mgr     *composite.Manager
	cells   *pad.Cells
	ring    *syslog.Ring
	started time.Time

	mu   sync.Mutex
	line []byte
	out  bytes.Buffer
}

// New returns a console ready to serve. The banner and first prompt are
// queued immediately so they greet the host's first read.
func New(log *slog.Logger, mgr *composite.Manager, cells *pad.Cells, ring *syslog.Ring) *Console {
	c := &Console{
		log:     log.With("component", "console"),
		mgr:     mgr,
		cells:   cells,
		ring:    ring,
		started: time.Now(),
	}
	c.out.WriteString("QuadPad console, h for help\r\n" + prompt)
	return c
}

// Feed consumes host-to-device bytes: echo, line editing, command
// dispatch on carriage return.
func (c *Console) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		switch {
		case b == '\r' || b == '\n':
			c.echo("\r\n")
			line := strings.TrimSpace(string(c.line))
			c.line = c.line[:0]
			if line != "" {
				c.run(line)
			}
			c.echo(prompt)
		case b == 0x08 || b == 0x7F:
			if len(c.line) > 0 {
				c.line = c.line[:len(c.line)-1]
				c.echo("\b \b")
			}
		case b >= 0x20 && b < 0x7F:
			if len(c.line) < maxLineLen {
				c.line = append(c.line, b)
				c.echo(string(b))
			}
		}
	}
}

// Drain returns up to max pending device-to-host bytes.
func (c *Console) Drain(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return nil
	}
	n := c.out.Len()
	if n > max {
		n = max
	}
	out := make([]byte, n)
	_, _ = c.out.Read(out)
	return out
}

func (c *Console) echo(s string) {
	if c.out.Len()+len(s) > maxPending {
		return
	}
	c.out.WriteString(s)
}

func (c *Console) printf(format string, args ...any) {
	c.echo(fmt.Sprintf(format+"\r\n", args...))
}

// run dispatches one command line. Held under c.mu; everything it calls
// must be non-blocking.
func (c *Console) run(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "h", "?":
		c.printf("s        port status")
		c.printf("m        active mask")
		c.printf("e <n>    enable port n (1-%d)", pad.NumPorts)
		c.printf("d <n>    disable port n (1-%d)", pad.NumPorts)
		c.printf("l        replay log ring")
		c.printf("u        uptime")
	case "s":
		c.status()
	case "m":
		c.printf("mask %04b", c.mgr.ActiveMask())
	case "e":
		c.toggle(args, true)
	case "d":
		c.toggle(args, false)
	case "l":
		for _, l := range c.ring.Lines() {
			c.printf("%s", l)
		}
	case "u":
		c.printf("up %s", time.Since(c.started).Round(time.Second))
	default:
		c.printf("unknown command %q, h for help", cmd)
	}
}

func (c *Console) status() {
	mask := c.mgr.ActiveMask()
	for port := 0; port < pad.NumPorts; port++ {
		s := c.cells[port].Load()
		attached := "-"
		if s.Connected {
			attached = "attached"
		}
		enumerated := " "
		if mask&(1<<port) != 0 {
			enumerated = "*"
		}
		c.printf("P%d %s %-8s x=%+04d y=%+04d btn=%08b", port+1, enumerated, attached, s.X, s.Y, s.Buttons)
	}
	state := "stable"
	if c.mgr.Reconfiguring() {
		state = "reconfiguring"
	}
	c.printf("mask %04b %s, %d cycles", mask, state, c.mgr.Cycles())
}

func (c *Console) toggle(args []string, enable bool) {
	if len(args) != 1 {
		c.printf("usage: e|d <port>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > pad.NumPorts {
		c.printf("port must be 1-%d", pad.NumPorts)
		return
	}
	port := n - 1
	if enable {
		err = c.mgr.Enable(port)
	} else {
		err = c.mgr.Disable(port)
	}
	if err != nil {
		c.printf("error: %v", err)
		return
	}
	verb := "disable"
	if enable {
		verb = "enable"
	}
	c.log.Info("port toggle requested", "port", port, "enable", enable)
	c.printf("%s port %d requested", verb, n)
}
