package debugconsole

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
)

func TestMirrorWritesTaggedLine(t *testing.T) {
	color.Disable()
	t.Cleanup(func() { color.Enable = true })

	var out bytes.Buffer
	console := New(&out)
	console.now = func() time.Time { return time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC) }

	console.Mirror("case-1", "msg-1", "reassigning")
	line := out.String()
	for _, want := range []string{"[case-1]", "09:30:00", "msg-1", "reassigning"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("line %q not newline terminated", line)
	}
}

func TestNilConsoleIsSilent(t *testing.T) {
	var console *Console
	console.Mirror("a", "b", "c")
}
