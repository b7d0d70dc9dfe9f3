package common

import (
	"fmt"
	"io"
	"sync"

	"github.com/crmarques/reconctl/resource"
)

// ProgressWriter prints one line per finished step on stderr. On a terminal
// the line is rewritten in place.
type ProgressWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	kind    resource.Kind
	inPlace bool
	total   int
	done    int
}

func NewProgressWriter(writer io.Writer, kind resource.Kind) *ProgressWriter {
	return &ProgressWriter{writer: writer, kind: kind, inPlace: IsTerminalWriter(writer)}
}

func (p *ProgressWriter) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

func (p *ProgressWriter) Advance(units int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += units
	done := p.done
	if p.inPlace {
		_, _ = fmt.Fprintf(p.writer, "\r%s: %d/%d", p.kind, done, p.total)
		if done == p.total {
			_, _ = fmt.Fprintln(p.writer)
		}
		return
	}
	_, _ = fmt.Fprintf(p.writer, "%s: %d/%d\n", p.kind, done, p.total)
}
