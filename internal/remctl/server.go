package remctl

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ServerConfig configures a remctl listener. AllowedPrincipal is matched
// against the connecting client certificate's Subject.CommonName.
type ServerConfig struct {
	ListenAddr       string
	CertFile         string
	KeyFile          string
	ClientCAFile     string
	AllowedPrincipal string
	DumpDir          string
	Logger           *log.Logger
}

// Server serves ping/get-dump/remove-dump over mutual TLS.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
}

// Listen prepares the TLS listener without yet accepting connections, so
// callers can read back the bound address (useful for tests that bind to
// port 0).
func Listen(cfg ServerConfig) (*Server, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("remctl: load server cert: %w", err)
	}

	pool := x509.NewCertPool()
	caPEM, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("remctl: read client CA: %w", err)
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("remctl: no certificates parsed from %s", cfg.ClientCAFile)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}

	ln, err := tls.Listen("tcp", cfg.ListenAddr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("remctl: listen %s: %w", cfg.ListenAddr, err)
	}
	return &Server{cfg: cfg, listener: ln}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

func (s *Server) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return
	}
	if err := tlsConn.Handshake(); err != nil {
		s.logf("remctl: handshake from %s: %v", conn.RemoteAddr(), err)
		return
	}

	state := tlsConn.ConnectionState()
	principal := ""
	if len(state.PeerCertificates) > 0 {
		principal = state.PeerCertificates[0].Subject.CommonName
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	line = strings.TrimRight(line, "\n")
	fields := strings.SplitN(line, " ", 2)
	cmd := fields[0]
	arg := ""
	if len(fields) == 2 {
		arg = fields[1]
	}

	if cmd != CmdPing && principal != s.cfg.AllowedPrincipal {
		s.logf("remctl: denied principal %q for %s from %s", principal, cmd, conn.RemoteAddr())
		writeCommand(w, statusDenied, "principal mismatch")
		return
	}

	switch cmd {
	case CmdPing:
		writeCommand(w, statusOK, "pong")
	case CmdGetDump:
		s.handleGetDump(w, arg)
	case CmdRemoveDump:
		s.handleRemoveDump(w, arg)
	default:
		writeCommand(w, statusError, "unknown command")
	}
}

func (s *Server) handleGetDump(w *bufio.Writer, filename string) {
	if err := ValidateFilename(filename); err != nil {
		writeCommand(w, statusError, err.Error())
		return
	}
	path := filepath.Join(s.cfg.DumpDir, filename)

	f, err := os.Open(path)
	if err != nil {
		writeCommand(w, statusError, err.Error())
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeCommand(w, statusError, err.Error())
		return
	}

	writeCommand(w, statusOK, fmt.Sprintf("%d", info.Size()))
	if _, err := io.Copy(w, f); err != nil {
		s.logf("remctl: stream %s: %v", path, err)
		return
	}
	w.Flush()
}

func (s *Server) handleRemoveDump(w *bufio.Writer, filename string) {
	if err := ValidateFilename(filename); err != nil {
		writeCommand(w, statusError, err.Error())
		return
	}
	path := filepath.Join(s.cfg.DumpDir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		writeCommand(w, statusError, err.Error())
		return
	}
	writeCommand(w, statusOK, "")
}
