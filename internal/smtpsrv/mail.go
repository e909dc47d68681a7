package smtpsrv

import (
	"go.eemail.sh/eemaild/internal/maillog"
)

// Mail accumulates the envelope and body of one message over the course of
// a single SMTP session. It is owned exclusively by that session's
// goroutine; no locking is needed.
type Mail struct {
	// ID is assigned once, when the connection ends, and shared by every
	// recipient delivered from this connection.
	ID string

	From string
	To   []string

	// Data is the verbatim message body, CRLF->LF normalized and with the
	// dot-stuffing terminator removed.
	Data []byte

	SendingData bool
	InMail      bool
	HasAuthed   bool
	HasTLS      bool
}

func (m *Mail) reset() {
	m.From = ""
	m.To = nil
	m.Data = nil
	m.InMail = false
}

// deliver hands the completed Mail to the mailbox writer: the sender's Sent
// copy is written iff the sender resolves locally and the receiving port
// has AuthEnabled set; every locally-resolving, distinct-primary recipient
// gets one Inbox copy.
func (c *Conn) deliver() {
	if sender, ok := c.resolver.Lookup(c.mail.From); ok && c.policy.AuthEnabled {
		if err := c.writer.DeliverSent(sender.Primary(), c.mail.ID, c.mail.Data); err != nil {
			c.tr.Errorf("failed to write sent copy for %s: %v", sender.Primary(), err)
		}
	}

	seen := map[string]bool{}
	for _, addr := range c.mail.To {
		rcpt, ok := c.resolver.Lookup(addr)
		if !ok {
			continue
		}
		primary := rcpt.Primary()
		if seen[primary] {
			continue
		}
		seen[primary] = true

		if err := c.writer.Deliver(primary, c.mail.ID, c.mail.Data); err != nil {
			c.tr.Errorf("failed to deliver to %s: %v", primary, err)
			continue
		}
		maillog.Delivered(c.stream.Conn().RemoteAddr(), c.mail.From, c.mail.To, c.mail.ID)
	}
}
