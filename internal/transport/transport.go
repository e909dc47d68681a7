// Package transport implements the dual-stream abstraction a single SMTP
// connection needs: a byte stream that starts out as plaintext TCP and may,
// after a STARTTLS negotiation, be swapped in place for a TLS-protected
// stream without the caller needing to track which mode it is in at the
// field level.
package transport

import (
	"bufio"
	"crypto/tls"
	"net"
)

// Stream wraps a net.Conn (plain or *tls.Conn) together with the buffered
// reader/writer pair the SMTP session drives line-oriented I/O through.
type Stream struct {
	conn   net.Conn
	Reader *bufio.Reader
	Writer *bufio.Writer

	tlsState *tls.ConnectionState
}

// New wraps an already-accepted connection as a plaintext Stream.
func New(conn net.Conn) *Stream {
	return &Stream{
		conn:   conn,
		Reader: bufio.NewReader(conn),
		Writer: bufio.NewWriter(conn),
	}
}

// Conn returns the underlying net.Conn, for deadline/address operations.
func (s *Stream) Conn() net.Conn { return s.conn }

// OnTLS reports whether the stream has been upgraded to TLS.
func (s *Stream) OnTLS() bool { return s.tlsState != nil }

// TLSState returns the TLS connection state, or nil if not on TLS.
func (s *Stream) TLSState() *tls.ConnectionState { return s.tlsState }

// UpgradeTLS performs the server-side TLS handshake on the current
// connection and, on success, replaces the stream's connection and
// buffered reader/writer with fresh ones built over the TLS connection.
// The caller must ensure no bytes beyond the STARTTLS command line have
// been buffered (RFC 3207 requires the client to wait for the 220 reply
// before starting the handshake); Buffered reports exactly that.
func (s *Stream) UpgradeTLS(config *tls.Config) error {
	server := tls.Server(s.conn, config)
	if err := server.Handshake(); err != nil {
		return err
	}

	s.conn = server
	s.Reader = bufio.NewReader(s.conn)
	s.Writer = bufio.NewWriter(s.conn)

	cstate := server.ConnectionState()
	s.tlsState = &cstate

	return nil
}

// Buffered returns the number of bytes currently buffered in the reader
// that have not yet been consumed by the session.
func (s *Stream) Buffered() int {
	return s.Reader.Buffered()
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
