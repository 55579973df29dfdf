package universe

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tideclaw/tideclaw/internal/config"
)

// NodeServer serves delegated tasks on a TCP listener. Each connection
// carries newline-delimited envelopes; tasks on one connection run
// serially in arrival order.
type NodeServer struct {
	cfg     config.UniverseConfig
	exec    *TaskExecutor
	limiter *RateLimiter
	logger  *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// NewNodeServer creates a NodeServer. Call Start to begin listening.
func NewNodeServer(cfg config.UniverseConfig, exec *TaskExecutor, logger *slog.Logger) *NodeServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeServer{
		cfg:     cfg,
		exec:    exec,
		limiter: NewRateLimiter(cfg.RatePerMinute, 5*time.Minute),
		logger:  logger,
	}
}

// Start binds the listener and begins accepting connections.
func (s *NodeServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("universe: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("universe node listening", "addr", ln.Addr().String(), "kinds", s.exec.Kinds())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, usable as a peer endpoint.
func (s *NodeServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.cfg.ListenAddr
	}
	return s.ln.Addr().String()
}

// Close stops the listener and waits for in-flight connections.
func (s *NodeServer) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *NodeServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("universe: accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

func (s *NodeServer) handleConn(conn net.Conn) {
	remote := remoteKey(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := ParseEnvelope(line)
		if err != nil {
			s.write(conn, errorEnvelope(nil, TypeError, err.Error()))
			continue
		}
		s.write(conn, s.respond(env, remote))
	}
}

// respond handles one envelope and produces the reply.
func (s *NodeServer) respond(env *Envelope, remote string) *Envelope {
	if env.Type == TypePing {
		pong, _ := env.Reply(TypePong, nil)
		return pong
	}
	if env.Type != TypeTaskRun {
		return errorEnvelope(env, TypeError, fmt.Sprintf("expected %s", TypeTaskRun))
	}

	var task TaskRunPayload
	if err := env.DecodePayload(&task); err != nil {
		return errorEnvelope(env, TypeError, fmt.Sprintf("bad payload: %v", err))
	}
	if !s.checkToken(task.ServiceToken) {
		return errorEnvelope(env, TypeError, "invalid service token")
	}
	if !s.limiter.Allow(remote) {
		return errorEnvelope(env, TypeError, "rate limit exceeded, try again later")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()
	start := time.Now()
	result, err := s.exec.Run(ctx, task.Kind, task.Prompt)
	if err != nil {
		s.logger.Warn("universe: task failed", "kind", task.Kind, "remote", remote, "error", err)
		return errorEnvelope(env, TypeTaskError, err.Error())
	}
	s.logger.Info("universe: task served", "kind", task.Kind, "remote", remote,
		"elapsed", time.Since(start).Round(time.Millisecond))
	resp, encodeErr := env.Reply(TypeTaskResult, TaskResultPayload{Content: result})
	if encodeErr != nil {
		return errorEnvelope(env, TypeTaskError, encodeErr.Error())
	}
	return resp
}

func (s *NodeServer) checkToken(provided string) bool {
	if s.cfg.ServiceToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.ServiceToken)) == 1
}

func (s *NodeServer) write(conn net.Conn, env *Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error("universe: encode reply failed", "error", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.logger.Warn("universe: write failed", "error", err)
	}
}

// remoteKey is the rate-limit key for a connection: the peer host without
// the ephemeral port.
func remoteKey(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
