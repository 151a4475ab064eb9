package ssh

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/imamik/kubehop/internal/util/keygen"
)

// execHandler answers one exec request.
type execHandler func(cmd string) (stdout, stderr string, code int)

// testServer is an in-process SSH server. Exec requests go to handler and
// the sftp subsystem serves the local filesystem.
type testServer struct {
	t        *testing.T
	listener net.Listener
	hostKey  ssh.Signer
	handler  execHandler

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
}

func newTestServer(t *testing.T, clientKey ssh.PublicKey, password string, handler execHandler) *testServer {
	t.Helper()

	hostPair, err := keygen.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	hostKey, err := hostPair.Signer()
	if err != nil {
		t.Fatalf("failed to parse host key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if clientKey != nil && string(key.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errUnauthorized
		},
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if password != "" && string(pw) == password {
				return nil, nil
			}
			return nil, errUnauthorized
		},
	}
	cfg.AddHostKey(hostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testServer{t: t, listener: l, hostKey: hostKey, handler: handler}
	go s.serve(cfg)
	t.Cleanup(s.Close)
	return s
}

var errUnauthorized = errors.New("unauthorized")

func (s *testServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// DropConnections closes every accepted connection from the server side.
func (s *testServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *testServer) Close() {
	_ = s.listener.Close()
	s.DropConnections()
}

func (s *testServer) serve(cfg *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handleConn(conn, cfg)
	}
}

func (s *testServer) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		switch req.Type {
		case "exec":
			cmd := parseString(req.Payload)
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()

			stdout, stderr, code := s.handler(cmd)
			_, _ = ch.Write([]byte(stdout))
			_, _ = ch.Stderr().Write([]byte(stderr))

			status := make([]byte, 4)
			binary.BigEndian.PutUint32(status, uint32(code)) //nolint:gosec // test exit codes are small
			_, _ = ch.SendRequest("exit-status", false, status)
			return
		case "subsystem":
			if parseString(req.Payload) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			server, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = server.Serve()
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func parseString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}
