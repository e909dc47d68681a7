// Package mailbox writes accepted mail to a local per-account maildir-style
// tree on disk: ${root}/<address>/Inbox/<id>.eml (and .../Sent/<id>.eml for
// the sender's own copy).
package mailbox

import (
	"os"
	"path/filepath"

	"go.eemail.sh/eemaild/internal/safeio"
)

// Writer persists messages under a fixed root directory.
type Writer struct {
	Root string
}

// New returns a Writer rooted at root (normally $EMAIL_PATH).
func New(root string) *Writer {
	return &Writer{Root: root}
}

// Deliver writes data to addr's Inbox folder under the given message id,
// creating the folder if needed.
func (w *Writer) Deliver(addr, id string, data []byte) error {
	return w.write(addr, "Inbox", id, data)
}

// DeliverSent writes data to addr's Sent folder, for the authenticated
// sender's own copy of an outgoing message.
func (w *Writer) DeliverSent(addr, id string, data []byte) error {
	return w.write(addr, "Sent", id, data)
}

func (w *Writer) write(addr, folder, id string, data []byte) error {
	dir := filepath.Join(w.Root, addr, folder)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path := filepath.Join(dir, id+".eml")
	return safeio.WriteFile(path, data, 0600)
}
