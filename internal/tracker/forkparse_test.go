package tracker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

func TestParseForkOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.RepoID
	}{
		{"plain created", "Created fork alice/widgets", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"checkmark prefix", "✓ Created fork alice/widgets", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"checkmark glued to token", "✓alice/widgets✓", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"already exists", "! alice/widgets already exists", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"source then fork", "Forking octo/widgets...\n✓ Created fork alice/widgets\n", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"trailing period", "Fork ready at alice/widgets.", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"dotted repo name", "Created fork alice/widgets.go", models.RepoID{Owner: "alice", Name: "widgets.go"}},
		{"quoted", `fork "alice/my_repo-2" created`, models.RepoID{Owner: "alice", Name: "my_repo-2"}},
		{"url wins over token", "Created fork alice/widgets (https://github.com/alice-bot/widgets.git)", models.RepoID{Owner: "alice-bot", Name: "widgets"}},
		{"url with slash", "https://github.com/alice/widgets/", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"fullwidth slash normalised", "Created fork alice／widgets", models.RepoID{Owner: "alice", Name: "widgets"}},
		{"hyphenated owner", "Created fork my-org/widgets", models.RepoID{Owner: "my-org", Name: "widgets"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseForkOutput(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseForkOutput_Rejects(t *testing.T) {
	inputs := []string{
		"",
		"✓ done",
		"path a/b/c was written",
		"-alice/widgets",
		"alice/",
		"/widgets",
		"https://gitlab.com/alice",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := ParseForkOutput(in)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrForkOutput))
		})
	}
}

func TestParseForkOutput_OwnerLength(t *testing.T) {
	long := "abcdefghijabcdefghijabcdefghijabcdefghij" // 40 characters
	_, err := ParseForkOutput("Created fork " + long + "/widgets")
	require.ErrorIs(t, err, ErrForkOutput)

	ok := long[:39]
	got, err := ParseForkOutput("Created fork " + ok + "/widgets")
	require.NoError(t, err)
	require.Equal(t, ok, got.Owner)
}
