package git

import (
	"context"
	"fmt"
	"strings"
)

// Remote names used for the upstream repository and the push fork.
const (
	UpstreamRemote = "upstream"
	ForkRemote     = "fork"
)

// GitHubURL returns the https clone URL for owner/name.
func GitHubURL(ownerName string) string {
	return "https://github.com/" + ownerName + ".git"
}

// EnsureRemote adds remote name pointing at url unless it already exists.
// An existing remote with a different URL is left alone and reported.
func EnsureRemote(ctx context.Context, r RemoteOperations, name, url string) error {
	current, err := r.RemoteURL(ctx, name)
	if err != nil {
		if addErr := r.AddRemote(ctx, name, url); addErr != nil {
			return fmt.Errorf("add remote %s: %w", name, addErr)
		}
		return nil
	}
	if !sameRepoURL(current, url) {
		return fmt.Errorf("remote %s points at %s, expected %s", name, current, url)
	}
	return nil
}

func sameRepoURL(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.TrimSuffix(s, "/")
		s = strings.TrimSuffix(s, ".git")
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "ssh://")
		s = strings.TrimPrefix(s, "git@")
		return strings.Replace(s, "github.com:", "github.com/", 1)
	}
	return norm(a) == norm(b)
}
