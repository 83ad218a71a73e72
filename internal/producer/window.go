package producer

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/fatih/color"
)

// DefaultWindow is the number of bytes printed per buffer.
const DefaultWindow = 16

var counterColor = color.New(color.FgCyan)

// windowPrinter prints a random slice of each buffer it is shown.
type windowPrinter struct {
	out    io.Writer
	label  string
	window int
	intn   func(int) int
}

func newWindowPrinter(out io.Writer, label string, window int) *windowPrinter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &windowPrinter{out: out, label: label, window: window, intn: rand.IntN}
}

// bounds picks [start, end) inside a payload of size bytes.
func (p *windowPrinter) bounds(size int) (int, int) {
	if size <= p.window {
		return 0, size
	}
	start := p.intn(size - p.window)
	return start, start + p.window
}

func (p *windowPrinter) print(n uint64, r io.ReaderAt, size int) {
	if p.out == nil {
		return
	}
	start, end := p.bounds(size)
	view := make([]byte, end-start)
	read, _ := r.ReadAt(view, int64(start))
	view = view[:read]
	_, _ = fmt.Fprintf(p.out, "%s %s [%d..%d] %v\n", counterColor.Sprintf("[%d]", n), p.label, start, end, view)
}
