// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/postmate/internal/platform"
)

// MockPlatform is an in-memory stand-in for the remote platform.
//
// Clients produced by [MockPlatform.Factory] share its accounts, scripted failures and call counters.
type MockPlatform struct {
	mu sync.Mutex

	passwords  map[string]string
	challenges map[string]bool
	counts     map[string]int

	ChallengeCode  string
	RejectRestored bool  // stored settings are refused on login
	LoginErr       error // returned by every login before credentials are checked
	ProbeErr       error
	PublishErr     error
	PublishGate    chan struct{} // when set, Publish blocks until it is closed
	OnPublish      func(req platform.PublishRequest)

	Published []platform.PublishRequest
	Options   []platform.Options
}

// NewMockPlatform creates an empty [MockPlatform].
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		passwords:     make(map[string]string),
		challenges:    make(map[string]bool),
		counts:        make(map[string]int),
		ChallengeCode: "123456",
	}
}

// SetPassword registers an account on the platform.
func (p *MockPlatform) SetPassword(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[username] = password
}

// SetChallenge makes logins for username hit a verification challenge.
func (p *MockPlatform) SetChallenge(username string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.challenges[username] = on
}

// Set replaces a scripted field under the platform lock.
func (p *MockPlatform) Set(fn func(p *MockPlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// Count returns how many times the named call was made.
// Names are login, restore_login, probe, publish, logout, challenge_request and challenge_submit.
func (p *MockPlatform) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Factory returns a [platform.Factory] bound to this platform.
func (p *MockPlatform) Factory() platform.Factory {
	return func(opts platform.Options) platform.Client {
		p.mu.Lock()
		p.Options = append(p.Options, opts)
		p.mu.Unlock()
		return &MockClient{platform: p, opts: opts}
	}
}

func (p *MockPlatform) inc(name string) {
	p.counts[name]++
}

// MockClient is a [platform.Client] backed by a [MockPlatform].
type MockClient struct {
	platform *MockPlatform
	opts     platform.Options

	username  string
	settings  json.RawMessage
	restored  bool
	loggedIn  bool
	challenge bool
}

var _ platform.Client = (*MockClient)(nil)

func (c *MockClient) Login(ctx context.Context, username, password string) error {
	p := c.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inc("login")
	c.username = username

	if p.LoginErr != nil {
		return p.LoginErr
	}
	if want, ok := p.passwords[username]; !ok || want != password {
		return fmt.Errorf("%w: The password you entered is incorrect.", platform.ErrBadPassword)
	}
	if c.restored {
		p.inc("restore_login")
		if p.RejectRestored {
			return fmt.Errorf("%w: stored session expired", platform.ErrLoginRequired)
		}
	}
	if p.challenges[username] {
		c.challenge = true
		return fmt.Errorf("%w: checkpoint", platform.ErrChallengeRequired)
	}

	c.loggedIn = true
	if !c.restored {
		c.settings = json.RawMessage(fmt.Sprintf(`{"user":%q,"login":%d}`, username, p.counts["login"]))
	}
	return nil
}

func (c *MockClient) RestoreSettings(settings json.RawMessage) error {
	if !json.Valid(settings) {
		return errors.New("invalid settings")
	}
	c.settings = append(json.RawMessage(nil), settings...)
	c.restored = true
	return nil
}

func (c *MockClient) Settings() (json.RawMessage, error) {
	if !c.loggedIn {
		return nil, platform.ErrLoginRequired
	}
	return c.settings, nil
}

func (c *MockClient) ProbeLiveness(ctx context.Context) error {
	p := c.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inc("probe")
	if !c.loggedIn {
		return platform.ErrLoginRequired
	}
	return p.ProbeErr
}

func (c *MockClient) Publish(ctx context.Context, req platform.PublishRequest) (string, error) {
	p := c.platform
	p.mu.Lock()
	p.inc("publish")
	gate, hook := p.PublishGate, p.OnPublish
	loggedIn := c.loggedIn
	p.mu.Unlock()

	if !loggedIn {
		return "", platform.ErrLoginRequired
	}
	if hook != nil {
		hook(req)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishErr != nil {
		return "", p.PublishErr
	}
	p.Published = append(p.Published, req)
	return fmt.Sprintf("media-%d", len(p.Published)), nil
}

func (c *MockClient) Logout(ctx context.Context) error {
	p := c.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inc("logout")
	c.loggedIn = false
	return nil
}

func (c *MockClient) RequestChallengeCode(ctx context.Context) error {
	p := c.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inc("challenge_request")
	if !c.challenge {
		return errors.New("no challenge pending")
	}
	return nil
}

func (c *MockClient) SubmitChallengeCode(ctx context.Context, code string) error {
	p := c.platform
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inc("challenge_submit")
	if !c.challenge {
		return errors.New("no challenge pending")
	}
	if code != p.ChallengeCode {
		return fmt.Errorf("%w: wrong code", platform.ErrChallengeRequired)
	}

	c.challenge = false
	c.loggedIn = true
	p.challenges[c.username] = false
	c.settings = json.RawMessage(fmt.Sprintf(`{"user":%q,"verified":true}`, c.username))
	return nil
}

// Proxy returns the proxy the client was created with.
func (c *MockClient) Proxy() string { return c.opts.Proxy }

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// WriteMedia creates placeholder media files in dir and returns their paths.
func WriteMedia(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := dir + string(os.PathSeparator) + name
		if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
			t.Fatalf("Failed to write media %s: %v", path, err)
		}
		paths = append(paths, path)
	}
	return paths
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
