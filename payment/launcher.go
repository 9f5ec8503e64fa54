package payment

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync/atomic"
)

// Handle tracks the external checkout window.
type Handle interface {
	Closed() bool
}

// Launcher opens the hosted checkout page.
type Launcher interface {
	Open(ctx context.Context, url string) (Handle, error)
}

// ManualHandle reports closed once MarkClosed is called. A desktop browser
// gives no signal when a tab closes, so the user says so.
type ManualHandle struct {
	closed atomic.Bool
}

// MarkClosed records that the checkout window is gone.
func (h *ManualHandle) MarkClosed() { h.closed.Store(true) }

// Closed implements Handle.
func (h *ManualHandle) Closed() bool { return h.closed.Load() }

// BrowserLauncher opens URLs in the system browser.
type BrowserLauncher struct {
	last atomic.Pointer[ManualHandle]
}

// Open starts the platform's URL opener and returns a ManualHandle.
func (l *BrowserLauncher) Open(ctx context.Context, url string) (Handle, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	go cmd.Wait()

	h := &ManualHandle{}
	l.last.Store(h)
	return h, nil
}

// Current returns the handle of the most recently opened checkout, or nil.
func (l *BrowserLauncher) Current() *ManualHandle { return l.last.Load() }
