package config

import "os"

// TokenSource represents where a tracker token was loaded from.
type TokenSource string

const (
	TokenSourceEnv    TokenSource = "environment"
	TokenSourceConfig TokenSource = "config_file"
	TokenSourceCLI    TokenSource = "gh_auth"
)

var tokenEnvVars = []string{"ISSUEPILOT_TRACKER_TOKEN", "GH_TOKEN", "GITHUB_TOKEN"}

// GetTokenSource reports where the tracker token comes from. When neither the
// environment nor the config file sets one, the gh CLI's own stored
// authentication is used.
func GetTokenSource(cfg *Config) TokenSource {
	for _, name := range tokenEnvVars {
		if os.Getenv(name) != "" {
			return TokenSourceEnv
		}
	}
	if cfg != nil && cfg.Tracker.Token != "" {
		return TokenSourceConfig
	}
	return TokenSourceCLI
}

// TrackerEnv returns extra environment entries for tracker subprocesses.
// It is empty when the token already reaches them through the environment.
func TrackerEnv(cfg *Config) []string {
	if GetTokenSource(cfg) != TokenSourceConfig {
		return nil
	}
	return []string{"GH_TOKEN=" + cfg.Tracker.Token}
}

// MaskToken returns a masked version of a token for display.
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
