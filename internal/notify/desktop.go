package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Desktop shows native notifications through notify-send (Linux/BSD)
// or osascript (macOS). Other platforms report ErrUnsupported.
type Desktop struct {
	appName  string
	urgency  string
	goos     string
	logger   *zap.Logger
	lookPath func(file string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

// NewDesktop creates a desktop presenter for the running platform.
func NewDesktop(appName, urgency string, logger *zap.Logger) *Desktop {
	return &Desktop{
		appName:  appName,
		urgency:  urgency,
		goos:     runtime.GOOS,
		logger:   logger,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Present(_ context.Context, n Notification) error {
	switch d.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return d.notifySend(n)
	case "darwin":
		return d.osascript(n)
	default:
		return ErrUnsupported
	}
}

func (d *Desktop) notifySend(n Notification) error {
	bin, err := d.lookPath("notify-send")
	if err != nil {
		return ErrUnsupported
	}

	cmd := d.command(bin, notifySendArgs(d.appName, d.urgency, n)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start notify-send: %w", err)
	}

	// With --wait notify-send blocks until the bubble closes and prints
	// the invoked action, so the wait happens off the delivery path.
	go func() {
		if err := cmd.Wait(); err != nil {
			d.logger.Debug("notify-send exited", zap.String("delivery_id", n.ID), zap.Error(err))
			return
		}
		if strings.TrimSpace(stdout.String()) == "default" && n.OnActivate != nil {
			n.OnActivate()
		}
	}()
	return nil
}

func notifySendArgs(appName, urgency string, n Notification) []string {
	args := []string{"--app-name", appName, "--urgency", urgency}
	if n.OnActivate != nil {
		args = append(args, "--action", "default=Open", "--wait")
	}
	title := n.Title
	if n.Repeat {
		title = "(again) " + title
	}
	args = append(args, title)
	if n.Body != "" {
		args = append(args, n.Body)
	}
	return args
}

func (d *Desktop) osascript(n Notification) error {
	bin, err := d.lookPath("osascript")
	if err != nil {
		return ErrUnsupported
	}

	cmd := d.command(bin, "-e", appleScript(d.appName, n))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func appleScript(appName string, n Notification) string {
	return fmt.Sprintf("display notification %s with title %s subtitle %s",
		appleQuote(n.Body), appleQuote(appName), appleQuote(n.Title))
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
