// Package smtpsrv implements eemaild's SMTP server: the port listeners and
// the per-connection session state machine.
package smtpsrv

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"go.eemail.sh/eemaild/internal/account"
	"go.eemail.sh/eemaild/internal/mailbox"
	"go.eemail.sh/eemaild/internal/maillog"
	"go.eemail.sh/eemaild/internal/trace"
	"go.eemail.sh/eemaild/internal/transport"

	"blitiri.com.ar/go/log"
)

// PortPolicy is the immutable, per-listener policy: which port to bind, and
// which SMTP behaviors are enabled on it.
type PortPolicy struct {
	// Port is the TCP port to listen on.
	Port uint16

	// AuthEnabled allows AUTH PLAIN to be advertised (over TLS) and a copy
	// of mail from a local sender to be written to that sender's Sent folder.
	AuthEnabled bool

	// FilteringEnabled is reserved for content filtering, an explicit
	// Non-goal of this implementation; the flag is carried on PortPolicy so
	// the two fixed listeners match their documented policy exactly, even
	// though no filtering logic reads it yet.
	FilteringEnabled bool

	// ImplicitTLS marks a port that wraps the socket in TLS before the
	// first byte, instead of negotiating STARTTLS. Reserved for forward
	// compatibility; neither fixed listener sets it.
	ImplicitTLS bool
}

func (p PortPolicy) String() string {
	return fmt.Sprintf("port %d (auth=%v filter=%v implicit-tls=%v)",
		p.Port, p.AuthEnabled, p.FilteringEnabled, p.ImplicitTLS)
}

// Fixed listener policies: plaintext-relay transfer and authenticated
// submission.
var (
	TransferPolicy = PortPolicy{
		Port: 2525, AuthEnabled: false, FilteringEnabled: true,
	}
	SubmissionPolicy = PortPolicy{
		Port: 5870, AuthEnabled: true, FilteringEnabled: false,
	}
)

// Server represents the SMTP service: the shared TLS configuration,
// account resolver, mailbox writer, and the set of port policies to
// listen on.
type Server struct {
	// Hostname used in greetings and EHLO's first capability line.
	Hostname string

	// MaxDataSize is the maximum DATA body size, in bytes.
	MaxDataSize int64

	// CommandTimeout is the idle-read deadline applied before each command
	// read.
	CommandTimeout time.Duration

	tlsConfig *tls.Config
	resolver  *account.Resolver
	authr     *account.Authenticator
	writer    *mailbox.Writer

	policies []PortPolicy
}

// NewServer returns a Server backed by the given service configuration and
// mailbox writer.
func NewServer(cfg *account.ServiceConfig, w *mailbox.Writer) *Server {
	resolver := account.NewResolver(cfg.Accounts)
	return &Server{
		Hostname:       cfg.FQDN,
		MaxDataSize:    10 * 1024 * 1024,
		CommandTimeout: 5 * time.Minute,
		tlsConfig:      &tls.Config{},
		resolver:       resolver,
		authr:          account.NewAuthenticator(resolver),
		writer:         w,
	}
}

// AddCerts loads a certificate chain and private key, appending it to the
// server's TLS configuration.
func (s *Server) AddCerts(certPath, keyPath string) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return err
	}
	s.tlsConfig.Certificates = append(s.tlsConfig.Certificates, cert)
	return nil
}

// AddListener registers a port policy to listen on once ListenAndServe is
// called.
func (s *Server) AddListener(p PortPolicy) {
	s.policies = append(s.policies, p)
}

// ListenAndServe binds every registered port policy and serves connections.
// It does not return. Failing to bind a listener is fatal; once a listener
// is up, accept errors on it are logged and serving continues.
func (s *Server) ListenAndServe() {
	if len(s.tlsConfig.Certificates) == 0 {
		log.Fatalf("At least one TLS certificate is needed (CERT_PATH/KEY_PATH)")
	}

	for _, p := range s.policies {
		addr := fmt.Sprintf("0.0.0.0:%d", p.Port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("Error listening on %s: %v", addr, err)
		}

		log.Infof("Server listening on %s (%s)", addr, p)
		maillog.Listening(addr)
		go s.serve(l, p)
	}

	// Never return; serve goroutines log and continue past accept errors.
	for {
		time.Sleep(24 * time.Hour)
	}
}

func (s *Server) serve(l net.Listener, policy PortPolicy) {
	if policy.ImplicitTLS {
		l = tls.NewListener(l, s.tlsConfig)
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			log.Errorf("Error accepting on %s: %v", l.Addr(), err)
			continue
		}

		c := &Conn{
			hostname:       s.Hostname,
			maxDataSize:    s.MaxDataSize,
			commandTimeout: s.CommandTimeout,
			stream:         transport.New(conn),
			policy:         policy,
			tlsConfig:      s.tlsConfig,
			resolver:       s.resolver,
			authr:          s.authr,
			writer:         s.writer,
		}
		go c.Handle()
	}
}
