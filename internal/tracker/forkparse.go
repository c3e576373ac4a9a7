package tracker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Fork output grammar. The text is NFKC-normalised, every non-ASCII rune
// becomes a space, and the result is split into fields on whitespace,
// quotes, brackets, commas, semicolons and exclamation marks. Trailing
// sentence punctuation (".", ":") is trimmed from each field. A field is a
// candidate when it fully matches one of:
//
//	url   = "http" ["s"] "://github.com/" owner "/" repo [".git"] ["/"]
//	token = owner "/" repo
//	owner = alnum { alnum | "-" }        (at most 39 characters)
//	repo  = namech { namech }            namech = alnum | "." | "_" | "-"
//
// URL candidates win over bare tokens. Among candidates of the same kind the
// last one wins, because fork tools print the created fork after the source.
var (
	forkURLPattern   = regexp.MustCompile(`^https?://github\.com/([A-Za-z0-9][A-Za-z0-9-]{0,38})/([A-Za-z0-9._-]+?)(?:\.git)?/?$`)
	forkTokenPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9-]{0,38})/([A-Za-z0-9._-]+)$`)
)

// ParseForkOutput extracts the fork's owner/name from human-readable output
// of a fork command, such as "✓ Created fork alice/widgets".
func ParseForkOutput(text string) (models.RepoID, error) {
	var fromURL, fromToken *models.RepoID

	for _, field := range forkFields(text) {
		if m := forkURLPattern.FindStringSubmatch(field); m != nil {
			if id, ok := repoCandidate(m[1], m[2]); ok {
				fromURL = &id
			}
			continue
		}
		if m := forkTokenPattern.FindStringSubmatch(field); m != nil {
			if id, ok := repoCandidate(m[1], m[2]); ok {
				fromToken = &id
			}
		}
	}

	switch {
	case fromURL != nil:
		return *fromURL, nil
	case fromToken != nil:
		return *fromToken, nil
	default:
		return models.RepoID{}, fmt.Errorf("%w: %q", ErrForkOutput, strings.TrimSpace(text))
	}
}

func forkFields(text string) []string {
	clean := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return ' '
		}
		return r
	}, norm.NFKC.String(text))

	fields := strings.FieldsFunc(clean, func(r rune) bool {
		if unicode.IsSpace(r) {
			return true
		}
		return strings.ContainsRune("\"'`()<>[]{},;!", r)
	})
	for i, f := range fields {
		fields[i] = strings.TrimRight(f, ".:")
	}
	return fields
}

func repoCandidate(owner, name string) (models.RepoID, bool) {
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == ".." {
		return models.RepoID{}, false
	}
	return models.RepoID{Owner: owner, Name: name}, true
}
