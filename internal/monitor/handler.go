package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/verdrift/internal/fingerprint"
	"github.com/conneroisu/verdrift/internal/logging"
)

// Drift describes a detected mismatch between baseline and served build.
type Drift struct {
	URL        string                  `json:"url"`
	Baseline   fingerprint.Fingerprint `json:"current"`
	Observed   fingerprint.Fingerprint `json:"latest"`
	DetectedAt time.Time               `json:"detected_at"`
}

// Resolution is an UpdateHandler's answer to a Drift.
type Resolution int

const (
	// Declined keeps the stale baseline; the drift is reported again on the
	// next check.
	Declined Resolution = iota
	// Accepted persists the observed fingerprint and triggers the Reloader.
	Accepted
)

// String returns the string representation of the Resolution
func (r Resolution) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "declined"
}

// UpdateHandler is notified exactly once per check that detects drift.
type UpdateHandler interface {
	OnUpdate(ctx context.Context, d Drift) Resolution
}

// UpdateHandlerFunc adapts a host-supplied hook to UpdateHandler.
type UpdateHandlerFunc func(ctx context.Context, d Drift) Resolution

// OnUpdate calls f.
func (f UpdateHandlerFunc) OnUpdate(ctx context.Context, d Drift) Resolution {
	return f(ctx, d)
}

// Prompter is the user-facing surface of the built-in flow.
type Prompter interface {
	Confirm(ctx context.Context, message string) bool
	Alert(ctx context.Context, message string)
}

// PromptHandler is the built-in confirm, alert, reload sequence. The reload
// itself is performed by the monitor's Reloader once the new baseline is
// persisted.
type PromptHandler struct {
	Prompter Prompter
	Messages Messages
}

// OnUpdate asks for confirmation and announces success when accepted.
func (h *PromptHandler) OnUpdate(ctx context.Context, d Drift) Resolution {
	if h.Prompter == nil || !h.Prompter.Confirm(ctx, h.Messages.Prompt) {
		return Declined
	}
	h.Prompter.Alert(ctx, h.Messages.Success)
	return Accepted
}

// LogHandler only reports drift. It always declines, so drift is logged on
// every check until somebody applies the update.
type LogHandler struct {
	Logger logging.Logger
}

// OnUpdate logs the drift.
func (h *LogHandler) OnUpdate(ctx context.Context, d Drift) Resolution {
	if h.Logger != nil {
		h.Logger.Warn(ctx, nil, "New build detected",
			"url", d.URL,
			"current", d.Baseline.String(),
			"latest", d.Observed.String())
	}
	return Declined
}

// AutoApplyHandler accepts every update without asking.
type AutoApplyHandler struct{}

// OnUpdate accepts d.
func (AutoApplyHandler) OnUpdate(context.Context, Drift) Resolution { return Accepted }

// Reloader applies an accepted update.
type Reloader interface {
	Reload(ctx context.Context, d Drift) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, d Drift) error

// Reload calls f.
func (f ReloaderFunc) Reload(ctx context.Context, d Drift) error { return f(ctx, d) }

type nopReloader struct{}

func (nopReloader) Reload(context.Context, Drift) error { return nil }

// CommandReloader runs an external command for every accepted update. The
// drift is exposed through VERDRIFT_URL, VERDRIFT_CURRENT and
// VERDRIFT_LATEST. No shell is involved.
type CommandReloader struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Reload runs the command and waits for it.
func (r *CommandReloader) Reload(ctx context.Context, d Drift) error {
	if len(r.Args) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.Args[0], r.Args[1:]...)
	cmd.Env = append(cmd.Environ(),
		"VERDRIFT_URL="+d.URL,
		"VERDRIFT_CURRENT="+d.Baseline.String(),
		"VERDRIFT_LATEST="+d.Observed.String(),
	)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reload command %q: %w", r.Args[0], err)
	}
	return nil
}

// TerminalPrompter asks on a line-oriented terminal.
type TerminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter creates a prompter reading answers from in.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Confirm prints message and reads a yes/no answer. Anything but an
// explicit yes declines, including EOF.
func (p *TerminalPrompter) Confirm(_ context.Context, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s [y/N]: ", message)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Alert prints message.
func (p *TerminalPrompter) Alert(_ context.Context, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, message)
}
