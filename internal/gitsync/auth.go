package gitsync

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	gohttp "net/http"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/ssh"

	"github.com/repotend/repotend/internal/config"
)

// auth returns the appropriate authentication method for the configured credentials.
func (s *Synchronizer) auth(ctx context.Context) (transport.AuthMethod, error) {
	if s.config.Credentials == nil {
		return nil, nil
	}

	value, err := s.config.Credentials.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	switch value := value.(type) {
	case config.SecretBasicAuth:
		return &basicAuth{
			Username: value.Username,
			Password: value.Password,
			Headers:  value.Headers,
		}, nil

	case config.SecretGitHubApp:
		token, err := s.githubApps().Token(ctx, value.IntegrationID, value.InstallationID, value.PrivateKey)
		if err != nil {
			return nil, err
		}

		return &http.BasicAuth{Username: "x-access-token", Password: token}, nil

	case config.SecretSSHKey:
		return newSSHAuth(value.Key, value.Passphrase, value.Fingerprints)

	case config.SecretTokenAuth:
		return &tokenAuth{token: value.Token}, nil
	}

	return nil, fmt.Errorf("unsupported authentication type: %T", value)
}

func (s *Synchronizer) githubApps() *GitHubApps {
	if s.apps == nil {
		s.apps = NewGitHubApps(1)
	}
	return s.apps
}

// GitHubApps caches GitHub App installation transports. Hundreds of
// repositories typically share a handful of installations, and every
// transport refreshes its own installation token.
type GitHubApps struct {
	cache *lru.Cache
	mu    sync.Mutex
}

func NewGitHubApps(size int) *GitHubApps {
	cache, err := lru.New(max(size, 1))
	if err != nil {
		panic(err) // only fails on non-positive sizes
	}
	return &GitHubApps{cache: cache}
}

// Token retrieves a GitHub App installation token for authentication.
func (gh *GitHubApps) Token(ctx context.Context, integrationID, installationID int64, privateKeyFile string) (string, error) {
	privateKey, err := os.ReadFile(privateKeyFile)
	if err != nil {
		return "", err
	}

	tr, err := gh.transport(integrationID, installationID, privateKey)
	if err != nil {
		return "", err
	}

	return tr.Token(ctx)
}

// transport returns a cached GitHub App transport or creates a new one for a new key.
func (gh *GitHubApps) transport(integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	key := fmt.Sprintf("%d/%d/%x", integrationID, installationID, sha256.Sum256(privateKey))

	gh.mu.Lock()
	defer gh.mu.Unlock()

	if tr, ok := gh.cache.Get(key); ok {
		return tr.(*ghinstallation.Transport), nil
	}

	tr, err := ghinstallation.New(gohttp.DefaultTransport, integrationID, installationID, privateKey)
	if err != nil {
		return nil, err
	}

	gh.cache.Add(key, tr)
	return tr, nil
}

// Len reports the number of cached transports.
func (gh *GitHubApps) Len() int {
	return gh.cache.Len()
}

// newSSHAuth creates an SSH authentication method with fingerprint validation.
func newSSHAuth(key string, passphrase string, fingerprints []string) (gitssh.AuthMethod, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		if err != nil {
			return nil, err
		}
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, err
		}
	}

	if len(fingerprints) == 0 {
		return nil, errors.New("ssh: at least one fingerprint is required when using ssh_key authentication")
	}

	return &gitssh.PublicKeys{
		User:   "git",
		Signer: signer,
		HostKeyCallbackHelper: gitssh.HostKeyCallbackHelper{
			HostKeyCallback: newCheckFingerprints(fingerprints),
		},
	}, nil
}

// newCheckFingerprints creates an SSH host key callback that validates against known fingerprints.
func newCheckFingerprints(fingerprints []string) ssh.HostKeyCallback {
	m := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		m[fp] = true
	}

	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		fingerprint := ssh.FingerprintSHA256(key)
		if _, ok := m[fingerprint]; !ok {
			return fmt.Errorf("ssh: unknown fingerprint (%s) for %s", fingerprint, hostname)
		}
		return nil
	}
}

// basicAuth provides HTTP basic authentication but in addition can set
// extra headers required for authentication.
type basicAuth struct {
	Username string
	Password string
	Headers  []string
}

func (a *basicAuth) String() string {
	masked := "*******"
	if a.Password == "" {
		masked = "<empty>"
	}
	return fmt.Sprintf("%s - %s:%s [%s]", a.Name(), a.Username, masked, strings.Join(a.Headers, ", "))
}

func (*basicAuth) Name() string {
	return "http-basic-auth-extra"
}

func (a *basicAuth) SetAuth(r *gohttp.Request) {
	r.SetBasicAuth(a.Username, a.Password)
	for _, header := range a.Headers {
		name, value, found := strings.Cut(header, ":")
		if found {
			r.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
}

// tokenAuth provides HTTP bearer token authentication.
type tokenAuth struct {
	token string
}

func (*tokenAuth) String() string {
	return "http-bearer-token - token-based"
}

func (*tokenAuth) Name() string {
	return "http-bearer-token"
}

func (a *tokenAuth) SetAuth(r *gohttp.Request) {
	r.Header.Set("Authorization", "Bearer "+a.token)
}
