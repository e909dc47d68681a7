package smtpsrv

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.eemail.sh/eemaild/internal/account"
	"go.eemail.sh/eemaild/internal/mailbox"
	"go.eemail.sh/eemaild/internal/maillog"
	"go.eemail.sh/eemaild/internal/trace"
	"go.eemail.sh/eemaild/internal/transport"
)

// Conn represents one in-flight SMTP session: one accepted connection,
// driven start to finish by a single goroutine.
type Conn struct {
	hostname    string
	maxDataSize int64

	stream *transport.Stream
	policy PortPolicy

	tlsConfig *tls.Config
	resolver  *account.Resolver
	authr     *account.Authenticator
	writer    *mailbox.Writer

	tr *trace.Trace

	ehloDomain string
	mail       Mail

	commandTimeout time.Duration

	// fatal marks the session as needing to close without any further
	// reply, e.g. after a STARTTLS buffering violation.
	fatal bool
}

// Handle drives the session from greeting to connection close.
func (c *Conn) Handle() {
	defer c.stream.Close()

	c.tr = trace.New("SMTP.Conn", c.stream.Conn().RemoteAddr().String())
	defer c.tr.Finish()
	c.tr.Debugf("connected, policy: %s", c.policy)

	c.setDeadline()
	c.printfLine("220 %s Ready", c.hostname)

	var err error
loop:
	for {
		c.setDeadline()

		var cmd, params string
		cmd, params, err = c.readCommand()
		if err != nil {
			break
		}

		if cmd == "AUTH" {
			c.tr.Debugf("-> AUTH <redacted>")
		} else {
			c.tr.Debugf("-> %s %s", cmd, params)
		}

		var code int
		var msg string

		switch cmd {
		case "HELO":
			code, msg = c.HELO(params)
		case "EHLO":
			code, msg = c.EHLO(params)
		case "STARTTLS":
			code, msg = c.STARTTLS(params)
		case "AUTH":
			code, msg = c.AUTH(params)
		case "MAIL":
			code, msg = c.MAIL(params)
		case "RCPT":
			code, msg = c.RCPT(params)
		case "DATA":
			code, msg = c.DATA(params)
		case "RSET":
			code, msg = c.RSET(params)
		case "NOOP":
			code, msg = c.NOOP(params)
		case "QUIT":
			_ = c.writeResponse(221, "Bye")
			if cw, ok := c.stream.Conn().(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			}
			break loop
		default:
			code, msg = 502, "Command not implemented"
		}

		if c.fatal {
			break
		}

		if code > 0 {
			c.tr.Debugf("<- %d %s", code, msg)
			if err = c.writeResponse(code, msg); err != nil {
				break
			}
		}
	}

	if err != nil && err != io.EOF {
		c.tr.Errorf("exiting with error: %v", err)
	}

	if c.fatal {
		return
	}

	// Message id assignment and delivery both happen once, at connection
	// end, shared across every recipient seen on this connection.
	if c.mail.From != "" || len(c.mail.To) > 0 {
		id, err := uuid.NewV7()
		if err != nil {
			c.tr.Errorf("failed to generate message id: %v", err)
			return
		}
		c.mail.ID = id.String()
		c.deliver()
	}
}

func (c *Conn) setDeadline() {
	c.stream.Conn().SetDeadline(time.Now().Add(c.commandTimeout))
}

// HELO handler: capability-free simple greeting, no capability list.
func (c *Conn) HELO(params string) (code int, msg string) {
	if strings.TrimSpace(params) == "" {
		return 501, "Syntax error in parameters"
	}
	c.ehloDomain = strings.Fields(params)[0]
	return 250, c.hostname
}

// EHLO handler: advertises capabilities contingent on TLS/auth state.
func (c *Conn) EHLO(params string) (code int, msg string) {
	if strings.TrimSpace(params) == "" {
		return 501, "Syntax error in parameters"
	}
	c.ehloDomain = strings.Fields(params)[0]

	lines := []string{
		c.hostname,
		"PIPELINING",
		fmt.Sprintf("Size %d", c.maxDataSize),
	}
	if !c.mail.HasTLS {
		lines = append(lines, "STARTTLS")
	}
	if c.policy.AuthEnabled && c.mail.HasTLS {
		lines = append(lines, "AUTH PLAIN")
	}
	return 250, strings.Join(lines, "\n")
}

// STARTTLS handler: replies, flushes, then performs the TLS handshake and
// swaps the stream's underlying connection and buffering in place.
func (c *Conn) STARTTLS(params string) (code int, msg string) {
	if c.mail.HasTLS {
		return 454, "TLS Already Active"
	}

	if err := c.writeResponse(220, "Ready to start TLS"); err != nil {
		return 0, ""
	}

	// RFC 3207 requires the client to wait for the 220 reply before
	// starting its handshake; any bytes already buffered past that point
	// are a protocol violation, and the connection is closed without a
	// reply rather than risk treating plaintext as the TLS stream.
	if c.stream.Buffered() != 0 {
		c.tr.Errorf("data buffered before TLS handshake, closing connection")
		c.fatal = true
		return 0, ""
	}

	if err := c.stream.UpgradeTLS(c.tlsConfig); err != nil {
		c.tr.Errorf("TLS handshake failed: %v", err)
		c.fatal = true
		return 0, ""
	}

	c.mail.HasTLS = true
	c.mail.reset()
	c.tr.Debugf("TLS handshake complete")
	return 0, ""
}

// AUTH handler: SASL PLAIN only, uniform 535 on any failure.
func (c *Conn) AUTH(params string) (code int, msg string) {
	if c.mail.InMail || c.mail.HasAuthed {
		return 503, "Authentication already completed or already in mail"
	}

	fields := strings.Fields(params)
	if len(fields) == 0 {
		return 501, "Syntax error in parameters"
	}
	if !strings.EqualFold(fields[0], "PLAIN") {
		return 504, "Authentication mechanism not supported"
	}

	var b64 string
	if len(fields) >= 2 {
		b64 = fields[1]
	} else {
		if err := c.writeResponse(334, ""); err != nil {
			return 0, ""
		}
		line, err := c.readLine()
		if err != nil {
			return 0, ""
		}
		b64 = line
	}

	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		c.tr.Errorf("AUTH PLAIN: bad base64: %v", err)
		return 535, "Authentication failed"
	}

	addr, passwd, err := account.DecodeResponse(decoded)
	if err != nil {
		c.tr.Errorf("AUTH PLAIN: %v", err)
		maillog.Auth(c.stream.Conn().RemoteAddr(), addr, false)
		return 535, "Authentication failed"
	}

	if !c.authr.Authenticate(addr, passwd) {
		maillog.Auth(c.stream.Conn().RemoteAddr(), addr, false)
		return 535, "Authentication failed"
	}

	maillog.Auth(c.stream.Conn().RemoteAddr(), addr, true)
	c.mail.HasAuthed = true
	return 235, "Authentication Successfull"
}

// MAIL handler. Tolerant address parsing: FROM: and a single pair of angle
// brackets are stripped if present, accepted as-is otherwise.
func (c *Conn) MAIL(params string) (code int, msg string) {
	c.mail.InMail = true
	c.mail.From = stripAddr(params, "FROM:")
	return 250, "OK"
}

// RCPT handler. Same tolerant stripping discipline as MAIL.
func (c *Conn) RCPT(params string) (code int, msg string) {
	c.mail.To = append(c.mail.To, stripAddr(params, "TO:"))
	return 250, "OK"
}

// stripAddr strips a case-sensitive prefix (e.g. "FROM:"/"TO:") and a
// single pair of angle brackets, tolerating either affix being absent.
func stripAddr(params, prefix string) string {
	s := strings.TrimSpace(params)
	if strings.HasPrefix(s, prefix) {
		s = s[len(prefix):]
	}
	s = strings.TrimSpace(s)

	// Drop any trailing parameters (e.g. "BODY=8BITMIME"), keeping only the
	// address token itself.
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// DATA handler. Frames the body with the dot-stuffing terminator and hands
// it to the in-memory Mail; actual delivery happens once, at connection
// close (see Handle).
func (c *Conn) DATA(params string) (code int, msg string) {
	// An empty From/To still enters DATA mode after replying 503, rather
	// than rejecting the command outright.
	if c.mail.From == "" || len(c.mail.To) == 0 {
		if err := c.writeResponse(503, "Bad Sequence of commands"); err != nil {
			return 0, ""
		}
	} else {
		if err := c.writeResponse(354, "End data with <CR><LF>.<CR><LF>"); err != nil {
			return 0, ""
		}
	}

	c.mail.SendingData = true

	dotr := textproto.NewReader(bufio.NewReader(
		io.LimitReader(c.stream.Reader, c.maxDataSize))).DotReader()
	raw, err := io.ReadAll(dotr)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			readUntilDot(c.stream.Reader)
			return 552, "Message too big"
		}
		return 554, fmt.Sprintf("Error reading DATA: %v", err)
	}

	c.mail.Data = append(c.mail.Data, bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))...)
	c.mail.SendingData = false

	return 250, "Message accepted"
}

// RSET handler: clears the in-progress envelope and body, and the InMail
// flag, so a fresh AUTH is legal again after a reset mid-transaction.
func (c *Conn) RSET(params string) (code int, msg string) {
	c.mail.reset()
	return 250, "OK"
}

// NOOP handler.
func (c *Conn) NOOP(params string) (code int, msg string) {
	return 250, "OK"
}

// readUntilDot keeps reading (and discarding) lines until the dot
// terminator, so an oversized message doesn't leave trailing body bytes to
// be misread as commands.
func readUntilDot(r *bufio.Reader) {
	prevMore := false
	for {
		l, more, err := r.ReadLine()
		if err != nil {
			break
		}
		if !more && !prevMore && string(l) == "." {
			break
		}
		prevMore = more
	}
}

func (c *Conn) readCommand() (cmd, params string, err error) {
	line, err := c.readLine()
	if err != nil {
		return "", "", err
	}

	sp := strings.SplitN(line, " ", 2)
	cmd = strings.ToUpper(sp[0])
	if len(sp) > 1 {
		params = sp[1]
	}
	return cmd, params, nil
}

func (c *Conn) readLine() (string, error) {
	l, more, err := c.stream.Reader.ReadLine()
	if err != nil {
		return "", err
	}

	// RFC 5321 §4.5.3.1.6: max line length is 1000 octets.
	if len(l) > 1000 || more {
		for more && err == nil {
			_, more, err = c.stream.Reader.ReadLine()
		}
		return "", fmt.Errorf("line too long")
	}

	return string(l), nil
}

func (c *Conn) writeResponse(code int, msg string) error {
	defer c.stream.Writer.Flush()
	return writeResponse(c.stream.Writer, code, msg)
}

func (c *Conn) printfLine(format string, args ...interface{}) {
	fmt.Fprintf(c.stream.Writer, format+"\r\n", args...)
	c.stream.Writer.Flush()
}

// writeResponse writes a (possibly multi-line) SMTP reply: all but the
// last line use "<code>-<text>", the last uses "<code> <text>".
func writeResponse(w io.Writer, code int, msg string) error {
	lines := strings.Split(msg, "\n")

	var i int
	for i = 0; i < len(lines)-1; i++ {
		if _, err := w.Write([]byte(strconv.Itoa(code) + "-" + lines[i] + "\r\n")); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte(strconv.Itoa(code) + " " + lines[i] + "\r\n"))
	return err
}
