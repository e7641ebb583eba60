package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"faucet/internal/identity"
	"faucet/internal/logging"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

var sshlog = logging.For("ssh")

// Server is the SSH operator console. Authorized operators get a line
// oriented shell driving the faucet.
type Server struct {
	addr     string
	hostKey  *identity.HostKey
	faucet   Faucet
	commands *CommandRegistry
	limiter  *commandLimiter
	authKeys []gossh.PublicKey
	config   *gossh.ServerConfig
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	ctx   context.Context
}

// NewServer creates the console. authKeysPath points to an authorized_keys
// file in OpenSSH format. If the file doesn't exist, the server starts but
// rejects all connections.
func NewServer(addr string, hostKey *identity.HostKey, f Faucet, authKeysPath string) (*Server, error) {
	authKeys, err := loadAuthorizedKeys(authKeysPath)
	if err != nil {
		return nil, err
	}
	if len(authKeys) == 0 {
		sshlog.Warn("no authorized keys loaded", "path", authKeysPath)
	}

	registry := NewCommandRegistry()
	registry.RegisterBuiltins()

	s := &Server{
		addr:     addr,
		hostKey:  hostKey,
		faucet:   f,
		commands: registry,
		authKeys: authKeys,
		conns:    make(map[net.Conn]struct{}),
		ctx:      context.Background(),
	}
	s.config = &gossh.ServerConfig{
		PublicKeyCallback: s.publicKeyCallback,
	}
	s.config.AddHostKey(hostKey.Signer)

	return s, nil
}

// LimitCommands caps each operator at perSec commands per second with a burst
// of twice that. Call before Serve; zero or less disables the limit.
func (s *Server) LimitCommands(perSec float64) {
	if perSec <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = newCommandLimiter(perSec)
}

// Listen binds the server socket. Call Serve to start accepting connections.
// Once Listen is called, the command registry is frozen and no new commands
// can be registered.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Freeze the command registry to prevent registration after server starts
	s.commands.Freeze()

	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve accepts SSH connections until ctx is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.ctx = ctx
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve called before listen")
	}
	sshlog.Info("console listening", "addr", ln.Addr().String(), "host_key", s.hostKey.Fingerprint)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	if s.limiter != nil {
		go s.limiter.cleanupLoop(ctx.Done(), time.Minute)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			sshlog.Warn("accept error", "err", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// Start is a convenience that calls Listen + Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) publicKeyCallback(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
	keyBytes := key.Marshal()
	for _, authorized := range s.authKeys {
		if bytes.Equal(keyBytes, authorized.Marshal()) {
			return &gossh.Permissions{
				Extensions: map[string]string{"pubkey-fp": gossh.FingerprintSHA256(key)},
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown public key for %s", meta.User())
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer s.removeConn(conn)

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, s.config)
	if err != nil {
		sshlog.Warn("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		return
	}
	defer func() { _ = sshConn.Close() }()

	sshlog.Info("client connected", "remote", conn.RemoteAddr(), "user", sshConn.User(),
		"key", sshConn.Permissions.Extensions["pubkey-fp"])
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			sshlog.Warn("channel accept error", "err", err)
			continue
		}
		go s.handleSession(channel, requests, sshConn)
	}
}

func (s *Server) handleSession(ch gossh.Channel, reqs <-chan *gossh.Request, conn *gossh.ServerConn) {
	defer func() { _ = ch.Close() }()

	// Wait for pty-req and shell before starting the terminal.
	// Drain other requests in the background once shell is received.
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go func() {
				for req := range reqs {
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
				}
			}()
			s.runTerminal(ch, conn)
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runTerminal(ch gossh.Channel, conn *gossh.ServerConn) {
	user := conn.User()
	terminal := term.NewTerminal(ch, fmt.Sprintf("[%s@faucet]> ", user))

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sshlog.Debug("session opened", "user", user)
	defer sshlog.Debug("session closed", "user", user)

	_, _ = fmt.Fprintf(terminal, "Welcome to the faucet console, %s!\r\n", user)
	_, _ = fmt.Fprintln(terminal, "Type /help for commands.")
	_, _ = fmt.Fprintln(terminal, "")

	for {
		line, err := terminal.ReadLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			_, _ = fmt.Fprintln(terminal, "Commands start with / (try /help)")
			continue
		}
		if !s.limiter.allow(user) {
			sshlog.Warn("command rate limited", "user", user)
			_, _ = fmt.Fprintln(terminal, "Slow down.")
			continue
		}
		if s.commands.Dispatch(ctx, line, user, terminal, s.faucet) {
			return // /quit
		}
	}
}

// Commands returns the server's command registry, allowing external packages
// to register additional commands before the server starts.
// Returns a CommandRegistrar interface to restrict access to registration methods only.
// Once Listen is called, the registry is frozen and Register will panic.
func (s *Server) Commands() CommandRegistrar {
	return s.commands
}

// loadAuthorizedKeys parses an OpenSSH authorized_keys file. A missing file
// yields no keys; a malformed one is an error.
func loadAuthorizedKeys(path string) ([]gossh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading authorized keys: %w", err)
	}

	var keys []gossh.PublicKey
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey(line)
		if err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", path, i+1, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
