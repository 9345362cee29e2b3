package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"golang.org/x/term"

	"github.com/quadpad/quadpad/apiclient"
	"github.com/quadpad/quadpad/internal/configpaths"
)

// Console is an interactive shell against a running adapter's API.
type Console struct {
	Addr     string `help:"API server address" default:"127.0.0.1:3242" env:"QUADPAD_API_ADDR"`
	Password string `help:"API password (defaults to the local key file)" env:"QUADPAD_API_PASSWORD"`
}

// Run is called by Kong when the console command is executed.
func (c *Console) Run(logger *slog.Logger) error {
	password := c.Password
	if password == "" {
		password = readLocalKey()
	}
	if password == "" {
		fmt.Print("Password: ")
		pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(string(pwd))
	}

	transport := apiclient.NewTransportWithPassword(c.Addr, password)
	client := apiclient.WithTransport(transport)
	if _, err := client.Ping(); err != nil {
		return fmt.Errorf("connect to %s: %w", c.Addr, err)
	}
	fmt.Printf("Connected to %s. Commands: status, mask, log, enable <port>, disable <port>, set <port> <json>, quit\n", c.Addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("quadpad> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			return nil
		}
		route, payload := translate(line)
		out, err := transport.Do(route, payload, nil)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out == "" {
			out = "ok"
		}
		fmt.Println(out)
	}
}

// translate maps shell-friendly commands onto API routes. Unknown
// commands pass through verbatim so raw routes stay reachable.
func translate(line string) (apiPath string, payload any) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "enable", "disable":
		if len(fields) == 2 {
			return fmt.Sprintf("pad/%s/%s", fields[1], fields[0]), nil
		}
	case "set":
		if len(fields) >= 3 {
			return fmt.Sprintf("pad/%s/set", fields[1]), strings.Join(fields[2:], " ")
		}
	}
	p, rest, found := strings.Cut(line, " ")
	if !found {
		return p, nil
	}
	return p, rest
}

func readLocalKey() string {
	dir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return ""
	}
	pwd, err := os.ReadFile(path.Join(dir, keyFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(pwd))
}
