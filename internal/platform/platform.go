// package platform defines the capability surface of the third-party publishing platform client.
package platform

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/models"
)

// Errors a [Client] reports for login outcomes the session manager must tell apart.
var (
	ErrBadPassword       = errors.New("bad password")
	ErrChallengeRequired = errors.New("challenge required")
	ErrLoginRequired     = errors.New("login required")
)

// PublishRequest describes one media publish.
type PublishRequest struct {
	Kind    models.TaskKind `json:"kind"`
	Paths   []string        `json:"paths"`
	Caption string          `json:"caption"`
}

// Client is an authenticated handle to the platform for a single account.
//
// A Client is not safe for concurrent use; the session manager hands out one per account.
type Client interface {
	// Login authenticates with credentials, reusing any settings applied through RestoreSettings.
	Login(ctx context.Context, username, password string) error
	// RestoreSettings applies a previously exported settings blob before Login.
	RestoreSettings(settings json.RawMessage) error
	// Settings exports the current opaque session settings.
	Settings() (json.RawMessage, error)
	// ProbeLiveness performs a cheap authenticated call and fails when the session is no longer valid.
	ProbeLiveness(ctx context.Context) error
	// Publish uploads media and returns the platform's media id.
	Publish(ctx context.Context, req PublishRequest) (string, error)
	// Logout ends the remote session.
	Logout(ctx context.Context) error
	// RequestChallengeCode asks the platform to send a verification code after [ErrChallengeRequired].
	RequestChallengeCode(ctx context.Context) error
	// SubmitChallengeCode completes a pending challenge.
	SubmitChallengeCode(ctx context.Context, code string) error
}

// Options configures a new [Client].
type Options struct {
	Proxy  string // Proxy URL, empty for a direct connection
	Logger *log.Logger
}

// Factory creates a fresh, unauthenticated [Client].
type Factory func(opts Options) Client
