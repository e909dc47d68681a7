// eemail-util is a command-line utility for offline eemaild configuration
// checks: validating a config file, resolving an address, and testing an
// account's password without starting the server.
package main

import (
	"fmt"
	"os"

	"go.eemail.sh/eemaild/internal/account"
	"go.eemail.sh/eemaild/internal/config"

	"github.com/docopt/docopt-go"
)

const usage = `eemail-util: offline eemaild configuration utility.

Usage:
  eemail-util check-config <config-path>
  eemail-util resolve <address> <config-path>
  eemail-util authenticate <user@domain> --password=<password> <config-path>
  eemail-util -h | --help

Options:
  -h --help  Show this help.
`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch {
	case mustBool(opts, "check-config"):
		checkConfig(mustStr(opts, "<config-path>"))
	case mustBool(opts, "resolve"):
		resolve(mustStr(opts, "<address>"), mustStr(opts, "<config-path>"))
	case mustBool(opts, "authenticate"):
		authenticate(mustStr(opts, "<user@domain>"), mustStr(opts, "--password"),
			mustStr(opts, "<config-path>"))
	}
}

func checkConfig(path string) {
	conf, err := config.Load(path)
	if err != nil {
		fatalf("config error: %v", err)
	}
	if _, err := conf.ServiceConfig(); err != nil {
		fatalf("config error: %v", err)
	}
	fmt.Printf("config OK: %d account(s), %d domain(s)\n",
		len(conf.Accounts), len(conf.Domains))
}

func resolve(addr, path string) {
	sc := loadServiceConfig(path)
	resolver := account.NewResolver(sc.Accounts)

	acc, ok := resolver.Lookup(addr)
	if !ok {
		fatalf("address %q does not resolve to any local account", addr)
	}
	fmt.Printf("%s -> %s\n", addr, acc.Primary())
}

func authenticate(addr, password, path string) {
	sc := loadServiceConfig(path)
	resolver := account.NewResolver(sc.Accounts)
	authr := account.NewAuthenticator(resolver)

	if authr.Authenticate(addr, password) {
		fmt.Println("authentication succeeded")
	} else {
		fatalf("authentication failed")
	}
}

func loadServiceConfig(path string) *account.ServiceConfig {
	conf, err := config.Load(path)
	if err != nil {
		fatalf("config error: %v", err)
	}
	sc, err := conf.ServiceConfig()
	if err != nil {
		fatalf("config error: %v", err)
	}
	return sc
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func mustBool(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func mustStr(opts docopt.Opts, key string) string {
	v, err := opts.String(key)
	if err != nil {
		return ""
	}
	return v
}
