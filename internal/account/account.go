// Package account implements the account and alias model: resolving any
// address a user owns (primary or alias) back to a single account, and
// authenticating against that account's stored password hash.
package account

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"go.eemail.sh/eemaild/internal/envelope"
	"go.eemail.sh/eemaild/internal/set"

	"github.com/GehirnInc/crypt"

	// Register the crypt(3) schemes we accept in hashed_password. Only
	// SHA-512-crypt is wired up; it is the closest PHC-style scheme to the
	// yescrypt format this account model was designed around, and the one
	// github.com/GehirnInc/crypt (used by the foxcpp-maddy mail server)
	// implements out of the box.
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

// Account is a single mailbox owner: a primary address (User@Domain) plus
// zero or more alias addresses that also deliver to it.
type Account struct {
	Domain         string
	User           string
	HashedPassword string
	Aliases        []string
}

// Primary returns the account's primary address, user@domain.
func (a *Account) Primary() string {
	return a.User + "@" + a.Domain
}

// Addresses returns every address that resolves to this account: its
// aliases followed by the primary address.
func (a *Account) Addresses() []string {
	addrs := make([]string, 0, 1+len(a.Aliases))
	addrs = append(addrs, a.Aliases...)
	addrs = append(addrs, a.Primary())
	return addrs
}

// Authenticate checks password against the account's stored hash. An
// account with no stored hash, or with a hash in a scheme that is not
// registered, never authenticates successfully.
func (a *Account) Authenticate(password string) (ok bool) {
	if a.HashedPassword == "" {
		return false
	}

	// crypt.NewFromHash panics on a hash whose scheme it does not know or
	// has not registered; report that as a failed authentication.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	crypter := crypt.NewFromHash(a.HashedPassword)
	if crypter == nil {
		return false
	}

	return crypter.Verify(a.HashedPassword, []byte(password)) == nil
}

// ServiceConfig is the immutable, process-wide configuration shared
// read-only by every SMTP session.
type ServiceConfig struct {
	FQDN        string
	SendingFQDN string
	Domains     *set.String
	Accounts    []*Account
}

// Resolver maps addresses to accounts. It holds no mutable state past
// construction and is safe for concurrent use by any number of goroutines.
type Resolver struct {
	accounts []*Account
	byAddr   map[string]*Account
}

// NewResolver builds a Resolver over the given accounts. Addresses are
// matched by exact-case byte equality: no case-folding, no Unicode
// normalization is applied, by design.
func NewResolver(accounts []*Account) *Resolver {
	r := &Resolver{
		accounts: accounts,
		byAddr:   map[string]*Account{},
	}
	for _, a := range accounts {
		for _, addr := range a.Addresses() {
			r.byAddr[addr] = a
		}
	}
	return r
}

// Lookup resolves addr (exact-case) to the account that owns it.
func (r *Resolver) Lookup(addr string) (*Account, bool) {
	a, ok := r.byAddr[addr]
	return a, ok
}

// Addresses returns every address the given account owns.
func (r *Resolver) Addresses(a *Account) []string {
	return a.Addresses()
}

// Primary returns the account's primary address.
func (r *Resolver) Primary(a *Account) string {
	return a.Primary()
}

// ValidateDisjoint checks that no two accounts in the list share an
// address. It is run once, at config-load time, to uphold the invariant
// the Resolver assumes.
func ValidateDisjoint(accounts []*Account) error {
	seen := map[string]string{} // address -> owning account's primary
	for _, a := range accounts {
		p := a.Primary()
		for _, addr := range a.Addresses() {
			if owner, ok := seen[addr]; ok {
				return fmt.Errorf(
					"address %q claimed by both %q and %q", addr, owner, p)
			}
			seen[addr] = p
		}
	}
	return nil
}

// Authenticator verifies user/domain/password triples against a Resolver,
// with a fixed approximate call duration to blunt basic timing attacks:
// a failed lookup and a failed password check take about the same time as
// a success.
type Authenticator struct {
	resolver *Resolver

	// AuthDuration is how long Authenticate calls should last,
	// approximately, for both successful and unsuccessful attempts. We
	// increase this by 0-20% of jitter on every call.
	AuthDuration time.Duration
}

// NewAuthenticator returns an Authenticator backed by the given resolver.
func NewAuthenticator(r *Resolver) *Authenticator {
	return &Authenticator{
		resolver:     r,
		AuthDuration: 100 * time.Millisecond,
	}
}

// Authenticate checks whether addr (user@domain) can authenticate with
// password. It always takes approximately AuthDuration, regardless of the
// outcome, and never distinguishes "unknown address" from "wrong password"
// in its return value.
func (au *Authenticator) Authenticate(addr, password string) bool {
	defer func(start time.Time) {
		elapsed := time.Since(start)
		delay := au.AuthDuration - elapsed
		if delay > 0 {
			maxDelta := int64(float64(delay) * 0.2)
			if maxDelta > 0 {
				delay += time.Duration(rand.Int63n(maxDelta))
			}
			time.Sleep(delay)
		}
	}(time.Now())

	acc, ok := au.resolver.Lookup(addr)
	if !ok {
		return false
	}
	return acc.Authenticate(password)
}

// DecodeResponse decodes a SASL PLAIN auth response.
//
// It takes the response after base64 decoding, which must be of the form:
//
//	<authorization id> NUL <authentication id> NUL <password>
//
// https://tools.ietf.org/html/rfc4954#section-4.1.
//
// Either both IDs match, or one of them is empty. The resulting identity is
// expected to be of the form "user@domain", which is not an RFC
// requirement but is required by this resolver.
func DecodeResponse(decoded []byte) (addr, passwd string, err error) {
	parts := bytes.SplitN(decoded, []byte{0}, 3)
	if len(parts) != 3 {
		err = fmt.Errorf("response must have 3 NUL-separated fields, as per RFC 4954")
		return
	}

	passwd = string(parts[2])

	z := string(parts[0])
	c := string(parts[1])

	if z != "" && c != "" && z != c {
		err = fmt.Errorf("authorization and authentication identities do not match")
		return
	}

	identity := c
	if identity == "" {
		identity = z
	}
	if identity == "" {
		err = fmt.Errorf("empty identity, must be in the form user@domain")
		return
	}

	if user, domain := envelope.Split(identity); user == "" || domain == "" {
		err = fmt.Errorf("identity must be in the form user@domain")
		return
	}

	addr = identity
	return
}
