package conductor

import (
	"reflect"
	"testing"
)

func TestLineWriterSplitsLines(t *testing.T) {
	var got []string
	w := newLineWriter(func(line string) { got = append(got, line) })

	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\n\n\x00third"))
	w.Flush()

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
}

func TestSanitizeLineKeepsEscape(t *testing.T) {
	if got, want := sanitizeLine("\x1b[32mok\x1b[0m\r\n"), "\x1b[32mok\x1b[0m"; got != want {
		t.Fatalf("sanitizeLine() = %q, want %q", got, want)
	}
}
