package gitsync

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gliderlabs/ssh"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"

	"github.com/repotend/repotend/internal/config"
)

type sshKey struct {
	pem    string
	public gossh.PublicKey
}

func newSSHKey(t *testing.T, passphrase string) sshKey {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	var block *pem.Block
	if passphrase != "" {
		block, err = gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = gossh.MarshalPrivateKey(priv, "")
	}
	if err != nil {
		t.Fatal(err)
	}

	public, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	return sshKey{pem: string(pem.EncodeToMemory(block)), public: public}
}

// newSSHServer serves git-upload-pack and git-receive-pack over SSH for
// clients holding key. It returns the listening address and the host key
// fingerprint.
func newSSHServer(t *testing.T, key sshKey) (string, string) {
	t.Helper()

	gitBin, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git binary not available")
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}

	srv := &ssh.Server{
		PublicKeyHandler: func(_ ssh.Context, k ssh.PublicKey) bool {
			return ssh.KeysEqual(k, key.public)
		},
		Handler: func(s ssh.Session) {
			args := s.Command()
			if len(args) != 2 || (args[0] != "git-upload-pack" && args[0] != "git-receive-pack") {
				fmt.Fprintf(s.Stderr(), "unsupported command %q\n", s.RawCommand())
				_ = s.Exit(1)
				return
			}

			cmd := exec.CommandContext(s.Context(), gitBin, strings.TrimPrefix(args[0], "git-"), args[1])
			cmd.Stdout = s
			cmd.Stderr = s.Stderr()
			stdin, err := cmd.StdinPipe()
			if err != nil {
				_ = s.Exit(1)
				return
			}
			if err := cmd.Start(); err != nil {
				fmt.Fprintln(s.Stderr(), err)
				_ = s.Exit(1)
				return
			}
			go func() {
				_, _ = io.Copy(stdin, s)
				_ = stdin.Close()
			}()
			if err := cmd.Wait(); err != nil {
				_ = s.Exit(1)
				return
			}
			_ = s.Exit(0)
		},
	}
	srv.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return ln.Addr().String(), gossh.FingerprintSHA256(hostSigner.PublicKey())
}

func sshCredentials(key sshKey, passphrase string, fingerprints ...string) *config.SecretRef {
	value := map[string]any{"type": "ssh_key", "key": key.pem}
	if passphrase != "" {
		value["passphrase"] = passphrase
	}
	if len(fingerprints) > 0 {
		fps := make([]any, len(fingerprints))
		for i, fp := range fingerprints {
			fps[i] = fp
		}
		value["fingerprints"] = fps
	}
	return (&config.Secret{Name: "ssh", Value: value}).Ref()
}

func TestSynchronizerSSH(t *testing.T) {
	key := newSSHKey(t, "")
	addr, fingerprint := newSSHServer(t, key)
	remote := newRemote(t, map[string]string{"README.md": "hello\n"})
	url := fmt.Sprintf("ssh://git@%s%s", addr, filepath.ToSlash(remote))

	path := filepath.Join(t.TempDir(), "checkout")
	s := New(path, config.Git{Repo: url, Reference: ref("main"), Credentials: sshCredentials(key, "", fingerprint)}, "paper-button")
	if err := s.Execute(t.Context()); err != nil {
		t.Fatal(err)
	}
	if bs, err := os.ReadFile(filepath.Join(path, "README.md")); err != nil || string(bs) != "hello\n" {
		t.Fatalf("unexpected checkout: %q, %v", bs, err)
	}

	r, err := git.PlainOpen(path)
	if err != nil {
		t.Fatal(err)
	}
	h := commitFiles(t, r, path, map[string]string{"CONTRIBUTING.md": "guide\n"}, "[skip ci] Create CONTRIBUTING.md")
	if err := s.Push(t.Context()); err != nil {
		t.Fatal(err)
	}

	bare, err := git.PlainOpen(remote)
	if err != nil {
		t.Fatal(err)
	}
	head, err := bare.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash() != h {
		t.Fatalf("expected remote main at %v, got %v", h, head.Hash())
	}
}

func TestSynchronizerSSHUnknownHostKey(t *testing.T) {
	key := newSSHKey(t, "")
	addr, _ := newSSHServer(t, key)
	remote := newRemote(t, map[string]string{"README.md": "hello\n"})
	url := fmt.Sprintf("ssh://git@%s%s", addr, filepath.ToSlash(remote))

	other := newSSHKey(t, "")
	wrong := gossh.FingerprintSHA256(other.public)

	path := filepath.Join(t.TempDir(), "checkout")
	s := New(path, config.Git{Repo: url, Reference: ref("main"), Credentials: sshCredentials(key, "", wrong)}, "paper-button")
	err := s.Execute(t.Context())
	if err == nil || !strings.Contains(err.Error(), "unknown fingerprint") {
		t.Fatalf("expected unknown fingerprint error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected nothing checked out, got %v", err)
	}
}

func TestSSHAuth(t *testing.T) {
	plain := newSSHKey(t, "")
	locked := newSSHKey(t, "s3cret")

	tests := []struct {
		note         string
		key          sshKey
		passphrase   string
		fingerprints []string
		wantErr      string
	}{
		{note: "plain key", key: plain, fingerprints: []string{"SHA256:abc"}},
		{note: "passphrase", key: locked, passphrase: "s3cret", fingerprints: []string{"SHA256:abc"}},
		{note: "wrong passphrase", key: locked, passphrase: "nope", fingerprints: []string{"SHA256:abc"}, wantErr: "decryption"},
		{note: "missing passphrase", key: locked, fingerprints: []string{"SHA256:abc"}, wantErr: "passphrase"},
		{note: "no fingerprints", key: plain, wantErr: "at least one fingerprint"},
		{note: "not a key", key: sshKey{pem: "PEM"}, fingerprints: []string{"SHA256:abc"}, wantErr: "no key found"},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			auth, err := newSSHAuth(tc.key.pem, tc.passphrase, tc.fingerprints)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			keys, ok := auth.(*gitssh.PublicKeys)
			if !ok {
				t.Fatalf("expected public keys auth, got %T", auth)
			}
			if keys.User != "git" {
				t.Fatalf("unexpected user %q", keys.User)
			}
			if !ssh.KeysEqual(keys.Signer.PublicKey(), tc.key.public) {
				t.Fatal("expected signer to match the configured key")
			}
		})
	}
}

func TestSSHAuthFromSecret(t *testing.T) {
	key := newSSHKey(t, "")
	s := New("", config.Git{Repo: "ssh://git@example.com/a.git", Reference: ref("main"), Credentials: sshCredentials(key, "")}, "a")

	auth, err := s.auth(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := auth.(*gitssh.PublicKeys); !ok {
		t.Fatalf("expected public keys auth, got %T", auth)
	}
}

func TestCheckFingerprints(t *testing.T) {
	known := newSSHKey(t, "").public
	unknown := newSSHKey(t, "").public

	check := newCheckFingerprints([]string{gossh.FingerprintSHA256(known)})
	if err := check("example.com:22", nil, known); err != nil {
		t.Fatalf("expected known host key to pass, got %v", err)
	}
	err := check("example.com:22", nil, unknown)
	if err == nil || !strings.Contains(err.Error(), "unknown fingerprint") || !strings.Contains(err.Error(), "example.com:22") {
		t.Fatalf("expected unknown fingerprint error, got %v", err)
	}
}
