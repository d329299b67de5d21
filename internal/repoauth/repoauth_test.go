package repoauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/gitsync/gitsync/internal/credentials"
)

func generateDeployKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func writeKnownHosts(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte("github.com "+githubFallbackSSHKeys[0]+"\n"), 0o600))
	t.Setenv(KnownHostsPathEnv, path)
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", MethodPublic},
		{"public", MethodPublic},
		{"PUBLIC", MethodPublic},
		{"token", MethodToken},
		{"oauth2", MethodToken},
		{"deploy_key", MethodDeployKey},
		{"deploy-key", MethodDeployKey},
		{"DeployKey", MethodDeployKey},
		{"basic", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMethod(tt.in), tt.in)
	}
}

func TestValidateCreateInput(t *testing.T) {
	deployKey := generateDeployKey(t)

	tests := []struct {
		name      string
		remoteURL string
		method    string
		secret    string
		wantErr   bool
	}{
		{"public https", "https://github.com/org/project.git", "public", "", false},
		{"missing url", "", "public", "", true},
		{"token https", "https://github.com/org/project.git", "token", "ghp_token", false},
		{"token without secret", "https://github.com/org/project.git", "token", "", true},
		{"token with ssh url", "git@github.com:org/project.git", "token", "ghp_token", true},
		{"deploy key ssh", "git@github.com:org/project.git", "deploy_key", deployKey, false},
		{"deploy key with https url", "https://github.com/org/project.git", "deploy_key", deployKey, true},
		{"deploy key missing", "git@github.com:org/project.git", "deploy_key", "", true},
		{"deploy key garbage", "git@github.com:org/project.git", "deploy_key", "not a key", true},
		{"unknown method", "https://github.com/org/project.git", "basic", "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreateInput(tt.remoteURL, tt.method, tt.secret)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildAuth(t *testing.T) {
	t.Run("public yields nil auth", func(t *testing.T) {
		auth, err := BuildAuth("public", credentials.ProviderGitHub, nil)
		require.NoError(t, err)
		assert.Nil(t, auth)
	})

	t.Run("token username per provider", func(t *testing.T) {
		tests := []struct {
			provider credentials.Provider
			username string
		}{
			{credentials.ProviderGitHub, "x-access-token"},
			{credentials.ProviderGitLab, "oauth2"},
			{credentials.ProviderOther, "git"},
		}
		for _, tt := range tests {
			auth, err := BuildAuth("token", tt.provider, []byte("secret-token"))
			require.NoError(t, err)

			basic, ok := auth.(*githttp.BasicAuth)
			require.True(t, ok)
			assert.Equal(t, tt.username, basic.Username)
			assert.Equal(t, "secret-token", basic.Password)
		}
	})

	t.Run("token without secret", func(t *testing.T) {
		_, err := BuildAuth("token", credentials.ProviderGitHub, nil)
		assert.Error(t, err)
	})

	t.Run("deploy key", func(t *testing.T) {
		writeKnownHosts(t)

		auth, err := BuildAuth("deploy_key", credentials.ProviderGitHub, []byte(generateDeployKey(t)))
		require.NoError(t, err)

		keys, ok := auth.(*gitssh.PublicKeys)
		require.True(t, ok)
		assert.Equal(t, "git", keys.User)
		assert.NotNil(t, keys.HostKeyCallback)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := BuildAuth("basic", credentials.ProviderGitHub, []byte("x"))
		assert.Error(t, err)
	})
}

func TestNormalizeDeployKey(t *testing.T) {
	t.Run("windows line endings", func(t *testing.T) {
		got := NormalizeDeployKey("-----BEGIN KEY-----\r\nabc\r\n-----END KEY-----\r\n")
		assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----\n", got)
	})

	t.Run("literal escape sequences", func(t *testing.T) {
		got := NormalizeDeployKey(`-----BEGIN KEY-----\nabc\n-----END KEY-----`)
		assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----\n", got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, NormalizeDeployKey("   "))
	})
}

func TestResolveKnownHostsPathFromEnv(t *testing.T) {
	t.Run("valid override", func(t *testing.T) {
		writeKnownHosts(t)
		path, err := ResolveKnownHostsPath()
		require.NoError(t, err)
		assert.Equal(t, os.Getenv(KnownHostsPathEnv), path)
	})

	t.Run("override pointing nowhere", func(t *testing.T) {
		t.Setenv(KnownHostsPathEnv, filepath.Join(t.TempDir(), "missing"))
		_, err := ResolveKnownHostsPath()
		assert.Error(t, err)
	})
}
