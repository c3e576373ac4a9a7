package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// DefaultPriorLogLines is how many lines of an earlier run are attached to
// a continue prompt.
const DefaultPriorLogLines = 200

// PriorLogs stores the raw agent output of each item so a later continue
// run can show the agent what happened last time.
type PriorLogs struct {
	fs  afero.Fs
	dir string
}

// NewPriorLogs stores logs under dir.
func NewPriorLogs(fs afero.Fs, dir string) *PriorLogs {
	return &PriorLogs{fs: fs, dir: dir}
}

// Path returns <dir>/<owner>-<repo>-<n>.log, or <owner>-<repo>-pr-<n>.log
// for items without an issue number.
func (p *PriorLogs) Path(item models.WorkItem) string {
	repo := item.Issue.Ref.Repo
	name := repo.Owner + "-" + repo.Name + "-"
	if item.HasIssueNumber() {
		name += strconv.Itoa(item.Issue.Ref.Number)
	} else if item.PullRequest != nil {
		name += "pr-" + strconv.Itoa(item.PullRequest.Number)
	} else {
		name += "unknown"
	}
	return filepath.Join(p.dir, name+".log")
}

// Tail returns the last n lines of the item's log, or "" when there is none.
func (p *PriorLogs) Tail(item models.WorkItem, n int) (string, error) {
	data, err := afero.ReadFile(p.fs, p.Path(item))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read prior log: %w", err)
	}
	return tailLines(string(data), n), nil
}

// Create truncates and opens the item's log for writing.
func (p *PriorLogs) Create(item models.WorkItem) (afero.File, error) {
	if err := p.fs.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := p.fs.OpenFile(p.Path(item), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create prior log: %w", err)
	}
	return f, nil
}

func tailLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
