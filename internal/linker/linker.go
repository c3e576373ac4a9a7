// Package linker guarantees that a pull request body references the issue
// it resolves, so the tracker closes the issue when the PR merges.
package linker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Separator is placed between the existing body and an appended marker.
const Separator = "\n\n---\n\n"

const closingKeywords = `(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)`

var qualifiedRef = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]*)/([A-Za-z0-9._-]+)#([0-9]+)$`)

// EnsureLinked returns body with a closing reference to ref. ref is either
// "#N" for a same-repository issue or "owner/repo#N". A body that already
// references ref is returned unchanged, so applying EnsureLinked twice is the
// same as applying it once. An empty ref leaves body unchanged.
func EnsureLinked(body, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || References(body, ref) {
		return body
	}
	return body + Separator + "Resolves " + ref
}

// References reports whether body contains a closing keyword followed by ref.
// For "owner/repo#N" refs the full issue URL is accepted as well.
func References(body, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	return markerPattern(ref).MatchString(body)
}

func markerPattern(ref string) *regexp.Regexp {
	targets := []string{regexp.QuoteMeta(ref)}
	if m := qualifiedRef.FindStringSubmatch(ref); m != nil {
		targets = append(targets, `https?://github\.com/`+regexp.QuoteMeta(m[1])+`/`+regexp.QuoteMeta(m[2])+`/issues/`+m[3])
	}
	expr := fmt.Sprintf(`(?i)(?:^|[^A-Za-z0-9_])%s:?[ \t]+(?:%s)(?:[^0-9]|$)`, closingKeywords, strings.Join(targets, "|"))
	return regexp.MustCompile(expr)
}

// IssueRefFor formats issue for a pull request opened against prRepo:
// "#N" when both live in the same repository, "owner/repo#N" otherwise.
func IssueRefFor(issue models.IssueRef, prRepo models.RepoID) string {
	n := strconv.Itoa(issue.Number)
	if issue.Repo.Equal(prRepo) {
		return "#" + n
	}
	return issue.Repo.String() + "#" + n
}
