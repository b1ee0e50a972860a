package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eonseed/perspt/internal/fs"
	"github.com/eonseed/perspt/internal/ledger"
	"github.com/eonseed/perspt/internal/logger"
	"github.com/eonseed/perspt/internal/session"
)

const maxConns = 8

// Server answers control requests for one running agent. The abort
// function cancels the orchestrator's context; it may be nil when the
// agent only serves inspection commands.
type Server struct {
	path     string
	sess     *session.Session
	ledger   *ledger.Ledger
	fsys     fs.FileSystem
	abort    func()
	listener net.Listener

	mu       sync.Mutex
	running  bool
	conns    int
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a control server listening on socketPath once
// started. fsys is the workspace filesystem rollbacks are applied to.
func NewServer(socketPath string, sess *session.Session, led *ledger.Ledger, fsys fs.FileSystem, abort func()) *Server {
	return &Server{
		path:     socketPath,
		sess:     sess,
		ledger:   led,
		fsys:     fsys,
		abort:    abort,
		stopChan: make(chan struct{}),
	}
}

// Start binds the socket and begins accepting connections
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// A previous run may have left a stale socket file behind.
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		logger.Warn("control: failed to set socket permissions: %v", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	logger.Info("control: listening on %s", s.path)
	return nil
}

// Stop closes the listener and removes the socket file
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("control: failed to remove socket file: %v", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logger.Info("control: stopped")
	})
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		default:
		}

		if ul, ok := s.listener.(*net.UnixListener); ok {
			ul.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			logger.Error("control: accept failed: %v", err)
			continue
		}

		s.mu.Lock()
		if s.conns >= maxConns {
			s.mu.Unlock()
			logger.Warn("control: connection limit reached, rejecting")
			conn.Close()
			continue
		}
		s.conns++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.conns--
				s.mu.Unlock()
			}()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			encoder.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}
		if err := encoder.Encode(s.handle(req)); err != nil {
			logger.Debug("control: write failed: %v", err)
			return
		}
	}
}

func (s *Server) handle(req Request) Response {
	logger.Debug("control: handling %s", req.Command)

	switch req.Command {
	case CmdStatus:
		return dataResponse(s.statusData())

	case CmdAbort:
		if s.abort == nil {
			return Response{Error: "no run to abort"}
		}
		s.sess.SetStatus(session.StatusAborted)
		s.abort()
		return Response{OK: true}

	case CmdLedgerRecent:
		limit := req.Limit
		if limit <= 0 {
			limit = 10
		}
		entries, err := s.ledger.Recent(limit)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return dataResponse(entries)

	case CmdLedgerStats:
		stats, err := s.ledger.Stats()
		if err != nil {
			return Response{Error: err.Error()}
		}
		return dataResponse(stats)

	case CmdLedgerVerify:
		if err := s.ledger.VerifyChain(); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}

	case CmdLedgerRollback:
		if req.Hash == "" {
			return Response{Error: "rollback requires a hash"}
		}
		entry, err := s.ledger.Rollback(req.Hash)
		if err != nil {
			return Response{Error: err.Error()}
		}
		if err := ledger.Apply(context.Background(), s.fsys, entry.Diffs); err != nil {
			return Response{Error: err.Error()}
		}
		s.sess.SetLedgerHead(entry.Hash)
		return dataResponse(entry)

	default:
		return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) statusData() StatusData {
	return StatusData{
		RunID:      s.sess.ID,
		Task:       s.sess.Task,
		Status:     string(s.sess.GetStatus()),
		Mode:       s.sess.Mode,
		Summary:    s.sess.Summary(),
		Steps:      s.sess.Steps,
		SpentUSD:   s.sess.SpentUSD,
		LedgerHead: s.sess.LedgerHead,
	}
}

func dataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{OK: true, Data: data}
}

// SocketPath returns the conventional control socket path for a
// workspace state directory
func SocketPath(stateDir string) string {
	return filepath.Join(stateDir, "control.sock")
}
