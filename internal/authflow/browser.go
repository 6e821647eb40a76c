package authflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/shared"
)

// BrowserOpener opens authorization URLs in the system browser.
//
// The terminal cannot observe the browser tab, so its [Window] reports closed
// once ctx is cancelled or Close is called.
type BrowserOpener struct {
	ctx    context.Context
	out    io.Writer
	logger *log.Logger
	open   func(string) error
}

// NewBrowserOpener creates a [BrowserOpener]. Redirect instructions are written to out.
func NewBrowserOpener(ctx context.Context, out io.Writer, logger *log.Logger) *BrowserOpener {
	if out == nil {
		out = os.Stdout
	}
	return &BrowserOpener{ctx: ctx, out: out, logger: orDiscard(logger), open: shared.OpenBrowser}
}

func (o *BrowserOpener) Open(url string) Window {
	if err := o.open(url); err != nil {
		o.logger.Warn("Could not open browser", "error", err)
		return nil
	}
	return &browserWindow{ctx: o.ctx, closed: make(chan struct{})}
}

func (o *BrowserOpener) Navigate(url string) error {
	_, err := fmt.Fprintf(o.out, "Open this link to connect Spotify, then run `aria resume`:\n  %s\n", url)
	return err
}

func (o *BrowserOpener) Focus() {
	o.logger.Debug("Spotify approved, back in the terminal")
}

type browserWindow struct {
	ctx    context.Context
	once   sync.Once
	closed chan struct{}
}

func (w *browserWindow) Closed() bool {
	select {
	case <-w.closed:
		return true
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

func (w *browserWindow) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}
