package terminal

import (
	"bytes"
	"testing"
)

func TestBuffer_Print(t *testing.T) {
	b := NewBuffer()
	b.Print("$ cat config.json")
	b.Print("{}")

	lines := b.Lines()
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0] != "$ cat config.json" {
		t.Errorf("lines[0] = %q, want %q", lines[0], "$ cat config.json")
	}

	lines[0] = "mutated"
	if got := b.Lines()[0]; got != "$ cat config.json" {
		t.Errorf("Lines() leaked internal slice, got %q", got)
	}
}

func TestWriter(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	w.Print("$ mkdir -p '/data/user/0/com.example'")
	Discard.Print("dropped")

	want := "$ mkdir -p '/data/user/0/com.example'\n"
	if out.String() != want {
		t.Errorf("writer got %q, want %q", out.String(), want)
	}
}
