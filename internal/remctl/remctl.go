// Package remctl implements the kerberized-in-spirit remote-command
// transport between dump and restore hosts described in spec §1 and §6.
// No remctl or Kerberos client library exists anywhere in the retrieved
// example corpus, so principal authentication is carried by mutual TLS:
// the client certificate's subject common name stands in for the
// authenticated principal, checked against remctl/allowed-principal. This
// is recorded as a stdlib-justified deviation in DESIGN.md.
package remctl

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// Subcommands, per spec §6.
const (
	CmdPing       = "ping"
	CmdGetDump    = "get-dump"
	CmdRemoveDump = "remove-dump"
)

// Status lines prefix every response before any streamed payload.
const (
	statusOK     = "OK"
	statusDenied = "DENIED"
	statusError  = "ERROR"
)

var (
	// ErrAccessDenied is returned by the client when the server's
	// authenticated principal does not match remctl/allowed-principal.
	ErrAccessDenied = errors.New("remctl: access denied")
	// ErrBadFilename is returned for a filename with directory components.
	ErrBadFilename = errors.New("remctl: filename must not contain path separators")
)

// ValidateFilename enforces spec §6's "bare name, no directory components"
// rule: slashes (in either direction, to also reject Windows-style paths
// arriving from a misconfigured client), an empty name, and the names "."
// and ".." cause rejection; other names with a leading dot are accepted.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrBadFilename)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrBadFilename, name)
	}
	return nil
}

// writeCommand sends a single command line, consisting of the subcommand
// and its optional argument, newline terminated.
func writeCommand(w *bufio.Writer, cmd, arg string) error {
	line := cmd
	if arg != "" {
		line += " " + arg
	}
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// readStatusLine reads and parses the single status line that precedes any
// streamed payload or closes the response.
func readStatusLine(r *bufio.Reader) (status, detail string, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	line = strings.TrimRight(line, "\n")
	parts := strings.SplitN(line, " ", 2)
	status = parts[0]
	if len(parts) == 2 {
		detail = parts[1]
	}
	return status, detail, nil
}
