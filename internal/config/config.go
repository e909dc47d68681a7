// Package config implements eemaild's TOML configuration format: loading it
// from disk and converting it into the immutable, read-only ServiceConfig
// the rest of the server shares.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"blitiri.com.ar/go/log"

	"go.eemail.sh/eemaild/internal/account"
	"go.eemail.sh/eemaild/internal/set"
)

// AccountConfig is the TOML representation of a single account.
type AccountConfig struct {
	Domain         string   `toml:"domain"`
	User           string   `toml:"user"`
	Aliases        []string `toml:"aliases"`
	HashedPassword string   `toml:"hashed_password"`
}

// Config is the TOML representation of the whole service configuration, as
// loaded straight from config.toml. It mirrors the file format; validation
// and the runtime-friendly shape live in ServiceConfig.
type Config struct {
	FQDN              string   `toml:"fqdn"`
	SendingFQDN       string   `toml:"sending_fqdn"`
	Domains           []string `toml:"domains"`
	MonitoringAddress string   `toml:"monitoring_address"`
	EnableSMTP        *bool    `toml:"enable_smtp"`
	EnableIMAP        *bool    `toml:"enable_imap"`
	EnablePOP3        *bool    `toml:"enable_pop3"`
	EnableFiltering   *bool    `toml:"enable_filtering"`

	Accounts []AccountConfig `toml:"accounts"`
}

// Load reads and parses the TOML configuration file at path.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
	}

	c := &Config{}
	if err := toml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}

	if c.FQDN == "" {
		return nil, fmt.Errorf("config must set fqdn")
	}

	return c, nil
}

// ServiceConfig converts the loaded Config into the immutable runtime
// account.ServiceConfig, validating that account address sets are pairwise
// disjoint, the invariant the resolver assumes. This validation happens
// once, at load time, before any listener starts.
func (c *Config) ServiceConfig() (*account.ServiceConfig, error) {
	domains := set.NewString(c.Domains...)

	accounts := make([]*account.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Domain == "" || a.User == "" {
			return nil, fmt.Errorf("account missing domain or user: %+v", a)
		}
		accounts = append(accounts, &account.Account{
			Domain:         a.Domain,
			User:           a.User,
			Aliases:        a.Aliases,
			HashedPassword: a.HashedPassword,
		})
	}

	if err := account.ValidateDisjoint(accounts); err != nil {
		return nil, fmt.Errorf("invalid account configuration: %v", err)
	}

	return &account.ServiceConfig{
		FQDN:        c.FQDN,
		SendingFQDN: c.SendingFQDN,
		Domains:     domains,
		Accounts:    accounts,
	}, nil
}

// boolOr returns *b if b is non-nil, otherwise def. Used for enable_smtp and
// the optional, inert enable_imap/enable_pop3/enable_filtering knobs: the
// latter three are accepted and stored, but those services are out of scope
// for this implementation.
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// SMTPEnabled reports whether the SMTP service should start, defaulting to
// true when enable_smtp is absent from the config file.
func (c *Config) SMTPEnabled() bool {
	return boolOr(c.EnableSMTP, true)
}

// LogConfig logs a human-friendly summary of the loaded configuration.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  FQDN: %q", c.FQDN)
	log.Infof("  Sending FQDN: %q", c.SendingFQDN)
	log.Infof("  Domains: %q", c.Domains)
	log.Infof("  Accounts: %d", len(c.Accounts))
	if c.MonitoringAddress != "" {
		log.Infof("  Monitoring address: %s", c.MonitoringAddress)
	}
	log.Infof("  enable_smtp: %v", c.SMTPEnabled())
	log.Infof("  enable_imap: %v (unimplemented, stored only)", boolOr(c.EnableIMAP, false))
	log.Infof("  enable_pop3: %v (unimplemented, stored only)", boolOr(c.EnablePOP3, false))
	log.Infof("  enable_filtering: %v (unimplemented, stored only)", boolOr(c.EnableFiltering, false))
}
