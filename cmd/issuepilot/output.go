package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/issuepilot/internal/orchestrator"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// outcomeGlyph returns the status symbol and color for an outcome.
func outcomeGlyph(o models.Outcome) (string, color.Attribute) {
	switch o {
	case models.OutcomeSuccess:
		return "✓", color.FgGreen
	case models.OutcomeDryRun:
		return "○", color.FgCyan
	case models.OutcomeResourceRejected:
		return "⚠", color.FgYellow
	default:
		return "✗", color.FgRed
	}
}

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printEvents renders pool events until the channel closes.
func printEvents(w io.Writer, events <-chan orchestrator.PoolEvent) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventItemDispatched:
			printStatus(w, "▶", fmt.Sprintf("[slot %d] %s (%s)", ev.Slot, ev.Item, ev.Mode), color.FgBlue)
		case orchestrator.EventItemCompleted:
			glyph, attr := outcomeGlyph(ev.Outcome)
			msg := fmt.Sprintf("[slot %d] %s %s in %s", ev.Slot, ev.Item, ev.Outcome, ev.Duration.Round(time.Second))
			if ev.Message != "" {
				msg += " " + ev.Message
			}
			printStatus(w, glyph, msg, attr)
		case orchestrator.EventDispatchRejected:
			printStatus(w, "⚠", fmt.Sprintf("%s not started: %v", ev.Item, ev.Error), color.FgYellow)
		case orchestrator.EventRunDone:
			if ev.Error != nil {
				printStatus(w, "✗", fmt.Sprintf("run stopped after %s: %v", ev.Duration.Round(time.Second), ev.Error), color.FgRed)
			}
		}
	}
}

// printSummary writes the result table for a finished run.
func printSummary(w io.Writer, report *orchestrator.Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Run %s: %d item(s) in %s",
		report.RunID, len(report.Results), report.Duration().Round(time.Second))))

	if len(report.Results) > 0 {
		fmt.Fprintln(w, resultTable(report.Results))
	}

	counts := report.Counts()
	parts := make([]string, 0, len(counts))
	for _, o := range []models.Outcome{
		models.OutcomeSuccess,
		models.OutcomeDryRun,
		models.OutcomeAgentFailure,
		models.OutcomeResourceRejected,
		models.OutcomeAborted,
	} {
		if n := counts[o]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", o, n))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintln(w, strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "Peak concurrency: %d\n", report.MaxBusy)

	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped %d candidate(s):\n", len(report.Skipped))
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "  - %s: %s\n", s.Label, s.Reason)
		}
	}
}

func resultTable(results []models.WorkResult) string {
	t := newTable("SLOT", "ITEM", "MODE", "OUTCOME", "DETAIL")
	for _, res := range results {
		glyph, attr := outcomeGlyph(res.Outcome)
		t.Row(
			fmt.Sprintf("%d", res.Slot),
			res.Item.Label(),
			string(res.Item.Mode),
			color.New(attr).Sprint(glyph)+" "+string(res.Outcome),
			resultDetail(res),
		)
	}
	return t.String()
}

// resultDetail is the PR URL for successes and the first line of the error
// detail otherwise.
func resultDetail(res models.WorkResult) string {
	if res.PRURL != "" {
		return res.PRURL
	}
	return truncate(res.ErrorDetail, 80)
}

// writeReport exports the ordered results as YAML.
func writeReport(path string, report *orchestrator.Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// stdinConfirmer asks on the terminal before continuing an open pull request.
// A single goroutine reads answers so a cancelled prompt never leaves a
// blocked read behind that would swallow the next answer.
type stdinConfirmer struct {
	mu      sync.Mutex
	in      io.Reader
	out     io.Writer
	once    sync.Once
	answers chan answer
	// closed is set once the reader has stopped at end of input.
	closed bool
}

type answer struct {
	text string
	err  error
}

func newStdinConfirmer(in io.Reader, out io.Writer) *stdinConfirmer {
	return &stdinConfirmer{in: in, out: out, answers: make(chan answer)}
}

func (c *stdinConfirmer) readAnswers() {
	reader := bufio.NewReader(c.in)
	for {
		line, err := reader.ReadString('\n')
		c.answers <- answer{text: line, err: err}
		if err != nil {
			return
		}
	}
}

// ConfirmContinue implements source.Confirmer. Anything but y or yes
// declines, including end of input. It returns ctx.Err() as soon as ctx is
// done, even while waiting for an answer.
func (c *stdinConfirmer) ConfirmContinue(ctx context.Context, item models.WorkItem) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	prompt := fmt.Sprintf("%s has an open pull request", item.Label())
	if item.PullRequest != nil {
		prompt = fmt.Sprintf("%s has open pull request #%d (%s)", item.Label(), item.PullRequest.Number, item.MergeStateStatus)
	}
	fmt.Fprintf(c.out, "%s. Continue it? [y/N] ", prompt)

	if c.closed {
		fmt.Fprintln(c.out)
		return false, nil
	}
	c.once.Do(func() { go c.readAnswers() })

	var a answer
	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case a = <-c.answers:
	}
	if a.err != nil {
		c.closed = true
		if a.err != io.EOF {
			return false, fmt.Errorf("read confirmation: %w", a.err)
		}
	}
	response := strings.TrimSpace(strings.ToLower(a.text))
	return response == "y" || response == "yes", nil
}

// parseTimeout accepts Go durations and a bare "0" to disable the limit.
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid --timeout %q: must not be negative", s)
	}
	return d, nil
}
