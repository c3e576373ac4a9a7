package agent

import (
	"strconv"
	"strings"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// PromptInput carries everything a prompt template refers to.
type PromptInput struct {
	Mode        models.Mode
	IssueURL    string
	IssueNumber int
	// PRNumber identifies the originating pull request of continue items
	// that have no issue number.
	PRNumber   int
	Branch     string
	WorkDir    string
	PRURL      string
	MergeState string
	Comments   []string
	// PriorLog is the tail of an earlier run's output for the same issue.
	PriorLog string
}

// PromptInputFor derives the prompt input from a work item.
func PromptInputFor(item models.WorkItem, priorLog string) PromptInput {
	in := PromptInput{
		Mode:        item.Mode,
		IssueURL:    item.Issue.URL,
		IssueNumber: item.Issue.Ref.Number,
		Branch:      item.BranchName,
		WorkDir:     item.WorkingDirectory,
		MergeState:  item.MergeStateStatus,
		Comments:    item.UnresolvedComments,
		PriorLog:    priorLog,
	}
	if item.PullRequest != nil {
		in.PRNumber = item.PullRequest.Number
		in.PRURL = item.PullRequest.URL
	}
	return in
}

// BuildPrompt renders the fresh or continue template. Fresh prompts end in
// "Proceed." and continue prompts in "Continue.".
func BuildPrompt(in PromptInput) string {
	var b strings.Builder

	if in.Mode == models.ModeContinue && in.IssueNumber <= 0 {
		b.WriteString("Pull request to continue: #" + strconv.Itoa(in.PRNumber) + "\n")
	} else {
		b.WriteString("Issue to solve: " + in.IssueURL + "\n")
	}
	b.WriteString("Your prepared branch: " + in.Branch + "\n")
	b.WriteString("Your prepared working directory: " + in.WorkDir + "\n")

	if in.Mode != models.ModeContinue {
		b.WriteString("\nProceed.")
		return b.String()
	}

	b.WriteString("Your prepared Pull Request: " + in.PRURL + "\n")
	b.WriteString("Existing pull request's merge state status: " + in.MergeState + "\n")

	if len(in.Comments) > 0 {
		b.WriteString("\nUnresolved review comments:\n")
		for _, c := range in.Comments {
			b.WriteString("- " + c + "\n")
		}
	}

	if log := strings.TrimSpace(in.PriorLog); log != "" {
		b.WriteString("\nOutput of the previous attempt (most recent lines):\n")
		b.WriteString(log + "\n")
	}

	b.WriteString("\nContinue.")
	return b.String()
}
