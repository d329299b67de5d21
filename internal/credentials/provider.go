package credentials

import (
	"net/url"
	"strings"
)

// Provider classifies the remote host a repository syncs against. It is a
// pure lookup over the repository configuration; callers use it to pick an
// auth strategy and tag telemetry, never for behavior branching inside the
// engine.
type Provider int

const (
	ProviderOther Provider = iota
	ProviderGitHub
	ProviderGitLab
)

func (p Provider) String() string {
	switch p {
	case ProviderGitHub:
		return "github"
	case ProviderGitLab:
		return "gitlab"
	default:
		return "other"
	}
}

// ResolveProvider classifies a remote URL. It never mutates its input and
// unknown hosts fall through to ProviderOther.
func ResolveProvider(remoteURL string) Provider {
	host := hostOf(remoteURL)
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return ProviderGitHub
	case host == "gitlab.com" || strings.HasSuffix(host, ".gitlab.com"):
		return ProviderGitLab
	default:
		return ProviderOther
	}
}

func hostOf(remoteURL string) string {
	trimmed := strings.TrimSpace(remoteURL)
	if trimmed == "" {
		return ""
	}

	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return ""
		}
		return strings.ToLower(parsed.Hostname())
	}

	// scp-like SSH syntax: git@host:path
	if at := strings.Index(trimmed, "@"); at >= 0 {
		rest := trimmed[at+1:]
		if colon := strings.Index(rest, ":"); colon > 0 {
			return strings.ToLower(rest[:colon])
		}
	}
	return ""
}
