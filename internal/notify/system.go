package notify

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"tgtg_watcher/internal/model"
)

// --- Console ---

const clearScreen = "\033[H\033[2J"

// Console prints messages to a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Enabled(n model.Notifications) bool { return n.Console.Enabled }

func (c *Console) Send(_ context.Context, acct model.Account, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acct.Notifications.Console.Clear {
		if _, err := io.WriteString(c.out, clearScreen); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", msg.Text)
	return err
}

// --- Desktop ---

// runHook allows tests to override command execution.
var runHook = func(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Desktop shows a native desktop notification.
type Desktop struct {
	goos string
}

// NewDesktop creates a Desktop channel for the running platform.
func NewDesktop() *Desktop {
	return &Desktop{goos: runtime.GOOS}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Enabled(n model.Notifications) bool { return n.Desktop.Enabled }

func (d *Desktop) Send(ctx context.Context, acct model.Account, msg Message) error {
	title := fmt.Sprintf("TooGoodToGo for user %s:", acct.ID)

	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(msg.Text), strconv.Quote(title))
		return runHook(ctx, "osascript", "-e", script)
	case "windows":
		return fmt.Errorf("desktop notifications are not supported on %s", d.goos)
	default:
		return runHook(ctx, "notify-send", title, msg.Text)
	}
}
