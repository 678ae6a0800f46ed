package cli

import (
	"fmt"
	"io"
	"os"
	"time"
)

// progressStep prints "label... done (12ms)" style status lines on stderr
// for slow startup work.
type progressStep struct {
	out     io.Writer
	label   string
	started time.Time
}

func startProgress(label string) *progressStep {
	if !progressEnabled() {
		return nil
	}
	return startProgressTo(os.Stderr, label)
}

func startProgressTo(out io.Writer, label string) *progressStep {
	fmt.Fprintf(out, "%s... ", label)
	return &progressStep{out: out, label: label, started: time.Now()}
}

func (p *progressStep) Done() {
	if p == nil {
		return
	}
	fmt.Fprintln(p.out, render(styleSuccess, "done")+render(styleMuted, " ("+formatDuration(time.Since(p.started))+")"))
}

func (p *progressStep) Fail(err error) {
	if p == nil {
		return
	}
	msg := "failed"
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(p.out, render(styleError, msg))
}

func progressEnabled() bool {
	if IsJSONOutput() || noProgress || IsNonInteractive() {
		return false
	}
	_, off := os.LookupEnv("FITZBOT_NO_PROGRESS")
	return !off
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
