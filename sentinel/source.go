package sentinel

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Default predicates for the OS log facility. messageType 16/17 are the
// error and fault levels.
const (
	DefaultErrorPredicate    = `messageType >= 16`
	DefaultGraphicsPredicate = `process == "WindowServer" OR eventMessage CONTAINS[c] "GPU"`
)

// LogQuery is one bounded request against the OS log facility.
type LogQuery struct {
	// Predicate filters events (OS log predicate syntax). Empty means all.
	Predicate string
	// Last is the lookback window.
	Last time.Duration
}

// LogSource is the boundary to the OS log facility. Implementations must
// honor the context deadline and return promptly once it expires.
type LogSource interface {
	Show(ctx context.Context, q LogQuery) (string, error)
}

// ExecLogSource shells out to the system log reader (`log show` on macOS).
type ExecLogSource struct {
	// Command is the reader binary, default "log".
	Command string
	// Style is the output style passed to the reader, default "syslog".
	Style string
}

func (s *ExecLogSource) Show(ctx context.Context, q LogQuery) (string, error) {
	bin := s.Command
	if bin == "" {
		bin = "log"
	}
	style := s.Style
	if style == "" {
		style = "syslog"
	}
	args := []string{"show", "--last", formatLast(q.Last), "--style", style}
	if strings.TrimSpace(q.Predicate) != "" {
		args = append(args, "--predicate", q.Predicate)
	}
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s show: %w", bin, err)
	}
	return string(out), nil
}

// formatLast renders a lookback duration as the reader's --last argument
// ("5m", "2h").
func formatLast(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int((d+time.Minute-1)/time.Minute))
}

// CommandRunner executes one external probe command and returns its combined
// output. Probes inject fakes in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// RunCommand is the production CommandRunner.
func RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return string(out), ctx.Err()
	}
	return string(out), err
}
