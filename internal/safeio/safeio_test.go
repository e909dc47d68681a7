package safeio

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"go.eemail.sh/eemaild/internal/testlib"
)

func testWriteFile(fname string, data []byte, perm os.FileMode) error {
	if err := WriteFile(fname, data, perm); err != nil {
		return fmt.Errorf("error writing file: %v", err)
	}

	c, err := ioutil.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("error reading: %v", err)
	}
	if !bytes.Equal(data, c) {
		return fmt.Errorf("expected %q, got %q", data, c)
	}

	st, err := os.Stat(fname)
	if err != nil {
		return fmt.Errorf("error in stat: %v", err)
	}
	if st.Mode() != perm {
		return fmt.Errorf("permissions mismatch, expected %#o, got %#o",
			perm, st.Mode())
	}

	return nil
}

func TestWriteFile(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	// Write a new file.
	content := []byte("content 1")
	if err := testWriteFile("file1", content, 0660); err != nil {
		t.Error(err)
	}

	// Overwrite an existing file.
	content = []byte("content 2")
	if err := testWriteFile("file1", content, 0660); err != nil {
		t.Error(err)
	}

	// Write again, this time changing permissions.
	content = []byte("content 3")
	if err := testWriteFile("file1", content, 0600); err != nil {
		t.Error(err)
	}
}

func TestWriteFileLeavesNoStrayTempFiles(t *testing.T) {
	dir := testlib.MustTempDir(t)
	defer testlib.RemoveIfOk(t, dir)

	if err := WriteFile("file2", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	entries, err := ioutil.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "file2" {
			t.Errorf("stray file left behind: %s", e.Name())
		}
	}
}
