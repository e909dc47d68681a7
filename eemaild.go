// eemaild is an SMTP (email) server, handling plaintext relay and
// authenticated submission on two fixed ports.
package main

import (
	"os"

	"go.eemail.sh/eemaild/internal/config"
	"go.eemail.sh/eemaild/internal/mailbox"
	"go.eemail.sh/eemaild/internal/maillog"
	"go.eemail.sh/eemaild/internal/monitoring"
	"go.eemail.sh/eemaild/internal/smtpsrv"

	"blitiri.com.ar/go/log"
)

// version is overridden at build time using -ldflags="-X main.version=blah".
var version = "undefined"

func main() {
	log.Init()
	log.Infof("eemaild starting (version %s)", version)
	monitoring.Version = version

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.toml"
	}

	conf, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	config.LogConfig(conf)

	svcConfig, err := conf.ServiceConfig()
	if err != nil {
		log.Fatalf("Error building service config: %v", err)
	}

	initMailLog()

	if conf.MonitoringAddress != "" {
		hostname, _ := os.Hostname()
		go monitoring.Launch(conf.MonitoringAddress, hostname)
	}

	if !conf.SMTPEnabled() {
		log.Infof("enable_smtp is false; not starting the SMTP service")
		select {}
	}

	emailPath := os.Getenv("EMAIL_PATH")
	if emailPath == "" {
		log.Infof("EMAIL_PATH not set, nothing to deliver; exiting")
		return
	}

	certPath := os.Getenv("CERT_PATH")
	keyPath := os.Getenv("KEY_PATH")
	if certPath == "" || keyPath == "" {
		log.Fatalf("CERT_PATH and KEY_PATH must both be set")
	}

	s := smtpsrv.NewServer(svcConfig, mailbox.New(emailPath))
	if err := s.AddCerts(certPath, keyPath); err != nil {
		log.Fatalf("Error loading certificates: %v", err)
	}
	s.AddListener(smtpsrv.TransferPolicy)
	s.AddListener(smtpsrv.SubmissionPolicy)

	s.ListenAndServe()
}

func initMailLog() {
	path := os.Getenv("MAIL_LOG_PATH")
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Errorf("Failed to open mail log at %q: %v", path, err)
		return
	}

	l := maillog.New(f)
	maillog.Default = l
}
