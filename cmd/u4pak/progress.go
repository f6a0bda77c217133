package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal reports whether stderr is attached to a terminal, the same
// ioctl probe distri's batch scheduler uses to decide whether to draw a
// live, self-overwriting status display or just let plain lines scroll by.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stderr.Fd()), unix.TCGETS)
	return err == nil
}()

// progressCounter prints a single self-overwriting "done/total" line to
// stderr while check/unpack report their per-record results, and clears it
// before the caller prints a FAIL line or the final summary. It is a no-op
// when stderr is not a terminal, so piped or logged output never sees
// carriage-return noise.
type progressCounter struct {
	verb  string
	total int
	width int
}

func newProgressCounter(verb string, total int) *progressCounter {
	return &progressCounter{verb: verb, total: total}
}

func (p *progressCounter) update(done int) {
	if !isTerminal || p.total == 0 {
		return
	}
	line := fmt.Sprintf("%s %d/%d", p.verb, done, p.total)
	if p.width > len(line) {
		line += spaces(p.width - len(line))
	}
	p.width = len(line)
	fmt.Fprintf(os.Stderr, "\r%s", line)
}

func (p *progressCounter) clear() {
	if !isTerminal || p.total == 0 || p.width == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s\r", spaces(p.width))
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
