package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Counter is a progress bar over a known number of items, used when
// submitting several document files.
type Counter struct {
	mu     sync.Mutex
	w      io.Writer
	title  string
	total  int
	done   int
	failed int
	width  int
}

// NewCounter creates a counter for total items.
func NewCounter(w io.Writer, title string, total int) *Counter {
	return &Counter{w: w, title: title, total: total, width: 30}
}

// Done records one finished item.
func (c *Counter) Done(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done++
	if !ok {
		c.failed++
	}
	c.render()
}

// Finish ends the line and returns the number of failed items.
func (c *Counter) Finish() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render()
	fmt.Fprintln(c.w)
	return c.failed
}

func (c *Counter) render() {
	if c.total <= 0 {
		fmt.Fprintf(c.w, "\r%s %d", c.title, c.done)
		return
	}
	filled := c.width * min(c.done, c.total) / c.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	fmt.Fprintf(c.w, "\r%s [%s] %d/%d", c.title, bar, c.done, c.total)
	if c.failed > 0 {
		fmt.Fprintf(c.w, " (%d failed)", c.failed)
	}
}
