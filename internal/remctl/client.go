package remctl

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ClientConfig configures the TLS client used to dial a remctl server.
type ClientConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
	CAFile   string
	// ServerName overrides the TLS server name check; useful when Addr is
	// an IP:port and the cert was issued for a hostname.
	ServerName string
}

// Client dials a remctl server for each call; the transport is a bounded
// request/response exchange, not a persistent session, per spec §1.
type Client struct {
	cfg  ClientConfig
	tlsC *tls.Config
}

// NewClient builds a Client, loading the client certificate and server CA
// once up front so dial errors surface immediately rather than per-call.
func NewClient(cfg ClientConfig) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("remctl: load client cert: %w", err)
	}
	pool := x509.NewCertPool()
	caPEM, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("remctl: read server CA: %w", err)
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("remctl: no certificates parsed from %s", cfg.CAFile)
	}
	return &Client{
		cfg: cfg,
		tlsC: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
			ServerName:   cfg.ServerName,
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

func (c *Client) dial() (*tls.Conn, error) {
	conn, err := tls.Dial("tcp", c.cfg.Addr, c.tlsC)
	if err != nil {
		return nil, fmt.Errorf("remctl: dial %s: %w", c.cfg.Addr, err)
	}
	return conn, nil
}

func (c *Client) roundTrip(cmd, arg string) (status, detail string, body io.ReadCloser, err error) {
	conn, err := c.dial()
	if err != nil {
		return "", "", nil, err
	}

	w := bufio.NewWriter(conn)
	if err := writeCommand(w, cmd, arg); err != nil {
		conn.Close()
		return "", "", nil, fmt.Errorf("remctl: send %s: %w", cmd, err)
	}

	r := bufio.NewReader(conn)
	status, detail, err = readStatusLine(r)
	if err != nil {
		conn.Close()
		return "", "", nil, fmt.Errorf("remctl: read status: %w", err)
	}
	return status, detail, &readCloserConn{r: r, c: conn}, nil
}

type readCloserConn struct {
	r *bufio.Reader
	c io.Closer
}

func (rc *readCloserConn) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc *readCloserConn) Close() error               { return rc.c.Close() }

// Ping performs the unauthenticated health check.
func (c *Client) Ping() error {
	status, detail, body, err := c.roundTrip(CmdPing, "")
	if err != nil {
		return err
	}
	body.Close()
	return statusToErr(status, detail)
}

// GetDump streams filename's dump blob into w. The caller is responsible
// for rejecting terminal-attached writers before calling this, per spec
// §6's "refuses if stdout is a terminal" (enforced at the CLI layer with
// golang.org/x/term.IsTerminal, not here, since Client has no notion of
// what w is attached to).
func (c *Client) GetDump(filename string, w io.Writer) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	status, detail, body, err := c.roundTrip(CmdGetDump, filename)
	if err != nil {
		return err
	}
	defer body.Close()

	if status != statusOK {
		return statusToErr(status, detail)
	}

	size, err := strconv.ParseInt(detail, 10, 64)
	if err != nil {
		return fmt.Errorf("remctl: malformed size %q", detail)
	}
	n, err := io.Copy(w, io.LimitReader(body, size))
	if err != nil {
		return fmt.Errorf("remctl: stream dump: %w", err)
	}
	if n != size {
		return fmt.Errorf("remctl: short read: got %d bytes, server advertised %d", n, size)
	}
	return nil
}

// RemoveDump unlinks filename on the remote host.
func (c *Client) RemoveDump(filename string) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	status, detail, body, err := c.roundTrip(CmdRemoveDump, filename)
	if err != nil {
		return err
	}
	body.Close()
	return statusToErr(status, detail)
}

func statusToErr(status, detail string) error {
	switch status {
	case statusOK:
		return nil
	case statusDenied:
		return ErrAccessDenied
	default:
		return fmt.Errorf("remctl: %s", detail)
	}
}
