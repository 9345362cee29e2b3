package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/quadpad/quadpad/internal/server/api/auth"
)

// Server implements a small TCP API for inspecting and driving the adapter.
type Server struct {
	addr   string
	ln     net.Listener
	logger *slog.Logger
	router *Router
	config ServerConfig
	key    []byte
}

// New creates a new API server.
func New(addr string, config ServerConfig, logger *slog.Logger) *Server {
	a := &Server{
		addr:   addr,
		logger: logger,
		config: config,
	}
	a.router = NewRouter()
	return a
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	if a.config.Password != "" {
		key, err := auth.DeriveKey(a.config.Password)
		if err != nil {
			return err
		}
		a.key = key
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.logger.Info("API listening", "addr", a.addr)
	go a.serve()
	return nil
}

// Close stops the API server.
func (a *Server) Close() {
	if a.ln != nil {
		_ = a.ln.Close()
	}
}

// Addr returns the listener address, or "" when the server is not started.
func (a *Server) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

func (a *Server) serve() {
	for {
		c, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		go a.handleConn(c)
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	apiErr := WrapError(err)
	problemJSON, _ := json.Marshal(apiErr)
	fmt.Fprintf(w, "%s\n", string(problemJSON))
}

func (a *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

// secureConn upgrades the connection to the encrypted session when a
// password is configured. Returns the reader/writer the request should
// be served on.
func (a *Server) secureConn(conn net.Conn, r *bufio.Reader, connLogger *slog.Logger) (*bufio.Reader, io.Writer, error) {
	if len(a.key) == 0 {
		return r, conn, nil
	}
	isAuth, err := auth.IsAuthHandshake(r)
	if err != nil {
		return nil, nil, fmt.Errorf("peek handshake: %w", err)
	}
	if !isAuth {
		return nil, nil, ErrUnauthorized("authentication required")
	}
	clientNonce, serverNonce, err := auth.HandleAuthHandshake(r, conn, a.key, false)
	if err != nil {
		return nil, nil, err
	}
	sessionKey := auth.DeriveSessionKey(a.key, serverNonce, clientNonce)
	wrapped, err := auth.WrapConn(conn, sessionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap connection: %w", err)
	}
	connLogger.Debug("api session established")
	return bufio.NewReader(wrapped), wrapped, nil
}

func (a *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	if a.config.ConnectionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.config.ConnectionTimeout))
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())

	r, w, err := a.secureConn(conn, bufio.NewReader(conn), connLogger)
	if err != nil {
		connLogger.Error("api auth failed", "error", err)
		a.writeError(conn, err)
		return
	}

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	// Remove null terminator
	reqData = strings.TrimSuffix(reqData, "\x00")

	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(w, ErrBadRequest("empty request"))
		return
	}

	// Split on first whitespace character using regex \s
	wsRegex := regexp.MustCompile(`\s`)
	loc := wsRegex.FindStringIndex(reqData)

	var path, payload string
	if loc != nil {
		path = reqData[:loc[0]]
		payload = reqData[loc[1]:]
	} else {
		path = reqData
		payload = ""
	}

	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(w, ErrBadRequest("empty path"))
		return
	}

	path = strings.ToLower(path)
	connLogger.Info("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(w, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(w, res.JSON)
		return
	}
	connLogger.Error("api unknown path", "path", path)
	a.writeError(w, ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}
