package smtpsrv

import (
	"bytes"
	"testing"
)

func TestStripAddr(t *testing.T) {
	cases := []struct {
		params, prefix, want string
	}{
		{"FROM:<a@b>", "FROM:", "a@b"},
		{"FROM:a@b", "FROM:", "a@b"},
		{"FROM:<a@b", "FROM:", "a@b"},
		{"FROM:a@b>", "FROM:", "a@b"},
		{"TO:<x@y> NOTIFY=SUCCESS", "TO:", "x@y"},
		{"from:<a@b>", "FROM:", "from:<a@b"}, // prefix match is case-sensitive
	}
	for _, c := range cases {
		if got := stripAddr(c.params, c.prefix); got != c.want {
			t.Errorf("stripAddr(%q, %q) = %q, want %q", c.params, c.prefix, got, c.want)
		}
	}
}

func TestWriteResponseSingleLine(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := writeResponse(buf, 250, "OK"); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "250 OK\r\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteResponseMultiLine(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := writeResponse(buf, 250, "a\nb\nc"); err != nil {
		t.Fatal(err)
	}
	want := "250-a\r\n250-b\r\n250 c\r\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMailReset(t *testing.T) {
	m := Mail{From: "a@b", To: []string{"c@d"}, Data: []byte("hi"), InMail: true, HasAuthed: true, HasTLS: true}
	m.reset()

	if m.From != "" || m.To != nil || m.Data != nil || m.InMail {
		t.Errorf("reset left stale fields: %+v", m)
	}
	if !m.HasAuthed || !m.HasTLS {
		t.Errorf("reset must not clear HasAuthed/HasTLS: %+v", m)
	}
}
