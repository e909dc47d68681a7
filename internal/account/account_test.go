package account

import (
	"encoding/base64"
	"testing"

	"github.com/google/go-cmp/cmp"

	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

func TestAddresses(t *testing.T) {
	a := &Account{
		Domain:  "example.com",
		User:    "juan",
		Aliases: []string{"postmaster@example.com", "j@example.com"},
	}

	got := a.Addresses()
	want := []string{"postmaster@example.com", "j@example.com", "juan@example.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Addresses mismatch (-want +got):\n%s", diff)
	}

	if p := a.Primary(); p != "juan@example.com" {
		t.Errorf("Primary() = %q, want juan@example.com", p)
	}
}

func TestResolverLookup(t *testing.T) {
	accounts := []*Account{
		{Domain: "example.com", User: "juan", Aliases: []string{"postmaster@example.com"}},
		{Domain: "example.com", User: "maria"},
	}
	r := NewResolver(accounts)

	cases := []struct {
		addr string
		ok   bool
	}{
		{"juan@example.com", true},
		{"postmaster@example.com", true},
		{"maria@example.com", true},
		{"Juan@example.com", false}, // exact-case matching, no folding
		{"unknown@example.com", false},
	}
	for _, c := range cases {
		_, ok := r.Lookup(c.addr)
		if ok != c.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", c.addr, ok, c.ok)
		}
	}
}

func TestValidateDisjointRejectsOverlap(t *testing.T) {
	accounts := []*Account{
		{Domain: "example.com", User: "juan", Aliases: []string{"shared@example.com"}},
		{Domain: "example.com", User: "maria", Aliases: []string{"shared@example.com"}},
	}
	if err := ValidateDisjoint(accounts); err == nil {
		t.Error("expected an error for overlapping addresses, got nil")
	}
}

func TestValidateDisjointAcceptsDisjointSets(t *testing.T) {
	accounts := []*Account{
		{Domain: "example.com", User: "juan"},
		{Domain: "example.com", User: "maria"},
	}
	if err := ValidateDisjoint(accounts); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// sha512CryptTestHash and sha512CryptTestPassword are the published SHA-512
// crypt test vector from Ulrich Drepper's "Unix crypt using SHA-256/SHA-512"
// reference (salt "saltstring", password "Hello world!"), used here so
// Authenticate can be exercised against a hash known to verify correctly,
// without needing to compute one.
const (
	sha512CryptTestHash     = "$6$saltstring$svn8UoSVapNtMuq1ukKS4tPQd8iKwSMHWjl/O817G3uBnIFNjnQJuesI68u4OTLiBFdcbYEdFCoEOfaS35inz1"
	sha512CryptTestPassword = "Hello world!"
)

func TestAccountAuthenticate(t *testing.T) {
	a := &Account{Domain: "example.com", User: "juan", HashedPassword: sha512CryptTestHash}

	if !a.Authenticate(sha512CryptTestPassword) {
		t.Error("Authenticate failed with the correct password")
	}
	if a.Authenticate("wrong-password") {
		t.Error("Authenticate succeeded with a wrong password")
	}

	a2 := &Account{Domain: "example.com", User: "maria"}
	if a2.Authenticate("anything") {
		t.Error("Authenticate succeeded with no stored hash")
	}
}

func TestDecodeResponse(t *testing.T) {
	mkResponse := func(authz, authc, pass string) []byte {
		return []byte(authz + "\x00" + authc + "\x00" + pass)
	}

	cases := []struct {
		name     string
		response []byte
		wantAddr string
		wantPass string
		wantErr  bool
	}{
		{"authcid only", mkResponse("", "user@domain", "pw"), "user@domain", "pw", false},
		{"matching ids", mkResponse("user@domain", "user@domain", "pw"), "user@domain", "pw", false},
		{"mismatched ids", mkResponse("a@domain", "b@domain", "pw"), "", "", true},
		{"no domain", mkResponse("", "user", "pw"), "", "", true},
		{"empty identity", mkResponse("", "", "pw"), "", "", true},
	}

	for _, c := range cases {
		addr, pass, err := DecodeResponse(c.response)
		if (err != nil) != c.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", c.name, err, c.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if addr != c.wantAddr || pass != c.wantPass {
			t.Errorf("%s: got (%q, %q), want (%q, %q)",
				c.name, addr, pass, c.wantAddr, c.wantPass)
		}
	}
}

// DecodeResponse takes already-decoded bytes; the base64 step happens before
// it, and must reject malformed input on its own.
func TestBase64DecodeRejectsBadInput(t *testing.T) {
	_, err := base64.StdEncoding.DecodeString("not-valid-base64!!")
	if err == nil {
		t.Fatal("expected base64 decode error")
	}
}
