// Package debugconsole mirrors handler debug messages to a terminal.
package debugconsole

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Console writes one colored line per debug message.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// New returns a console writing to out, or stderr when out is nil.
func New(out io.Writer) *Console {
	if out == nil {
		out = os.Stderr
	}
	return &Console{out: out, now: time.Now}
}

// Mirror prints message tagged with its instance and message ids.
func (c *Console) Mirror(instanceID, messageID, message string) {
	if c == nil {
		return
	}
	header := color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("[%s]", instanceID))
	meta := color.New(color.FgGray).Render(fmt.Sprintf("%s %s", c.now().UTC().Format(time.TimeOnly), messageID))

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "%s %s %s\n", header, meta, message)
}
