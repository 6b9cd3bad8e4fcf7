package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/platform"
	"github.com/desertthunder/postmate/internal/shared"
)

// Accounts is the slice of account persistence the manager needs.
type Accounts interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	SetStatus(ctx context.Context, id string, active, challengePending bool) error
}

// Proxies resolves an account's linked proxy.
type Proxies interface {
	Get(ctx context.Context, id string) (*models.Proxy, error)
}

// Handle is an authenticated platform client for one account.
type Handle struct {
	AccountID  string
	Username   string
	Client     platform.Client
	AcquiredAt time.Time
	live       bool
}

// Live reports whether the handle was authenticated or probed successfully and not invalidated since.
func (h *Handle) Live() bool { return h.live }

// Verdict is the outcome of validating an account's credentials.
type Verdict string

const (
	VerdictValid              Verdict = "valid"
	VerdictInvalidCredentials Verdict = "invalid_credentials"
	VerdictChallenge          Verdict = "challenge_required"
	VerdictError              Verdict = "error"
)

// Validation reports one account's [Verdict].
type Validation struct {
	AccountID string  `json:"account_id"`
	Username  string  `json:"username"`
	Verdict   Verdict `json:"verdict"`
	Error     string  `json:"error,omitempty"`
}

// ManagerOpts configures a [Manager].
type ManagerOpts struct {
	Accounts Accounts
	Proxies  Proxies
	Store    *Store
	Factory  platform.Factory
	Logger   *log.Logger
	Now      func() time.Time
}

// Manager produces authenticated platform handles per account, restoring stored sessions when possible
// and falling back to credential login. Live handles are cached per process and never persisted.
type Manager struct {
	accounts Accounts
	proxies  Proxies
	store    *Store
	factory  platform.Factory
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	handles map[string]*Handle
	pending map[string]platform.Client
}

// NewManager creates a [Manager].
func NewManager(opts ManagerOpts) *Manager {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		accounts: opts.Accounts,
		proxies:  opts.Proxies,
		store:    opts.Store,
		factory:  opts.Factory,
		logger:   opts.Logger,
		now:      opts.Now,
		locks:    make(map[string]*sync.Mutex),
		handles:  make(map[string]*Handle),
		pending:  make(map[string]platform.Client),
	}
}

// lock serializes login work for one account.
func (m *Manager) lock(accountID string) func() {
	m.mu.Lock()
	l, ok := m.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[accountID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Acquire returns an authenticated handle for the account.
//
// A stored session is tried first; any failure there falls through to a credential login.
// Errors wrap [shared.ErrAccountNotFound], [shared.ErrAccountInactive], [shared.ErrChallengeRequired],
// [shared.ErrInvalidCredentials] or [shared.ErrUnknownAuthFailure].
func (m *Manager) Acquire(ctx context.Context, accountID string) (*Handle, error) {
	unlock := m.lock(accountID)
	defer unlock()
	return m.acquire(ctx, accountID)
}

func (m *Manager) acquire(ctx context.Context, accountID string) (*Handle, error) {
	account, err := m.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	switch {
	case account.ChallengePending:
		return nil, fmt.Errorf("%w: %s is awaiting verification", shared.ErrChallengeRequired, account.Username)
	case !account.IsActive:
		return nil, fmt.Errorf("%w: %s", shared.ErrAccountInactive, account.Username)
	}

	return m.login(ctx, account)
}

// login restores or creates a session for account and caches the live handle.
func (m *Manager) login(ctx context.Context, account *models.Account) (*Handle, error) {
	logger := shared.WithLogger(m.logger, "account", account.Username)
	opts := m.clientOptions(ctx, account, logger)

	record := m.store.Load(account)
	switch record.State {
	case StateRestored:
		client := m.factory(opts)
		err := client.RestoreSettings(record.Blob.Settings)
		if err == nil {
			err = client.Login(ctx, account.Username, account.Password)
		}
		if err == nil {
			logger.Info("session restored", "source", record.Source)
			return m.adopt(ctx, account, client, logger), nil
		}
		record = record.Invalidate(fmt.Errorf("%w: %v", shared.ErrSessionRestoreFailed, err))
		logger.Warn("stored session rejected, logging in with credentials", "error", record.Err)
	case StateInvalid:
		logger.Warn("stored session unreadable, logging in with credentials", "error", record.Err)
	}

	client := m.factory(opts)
	if err := client.Login(ctx, account.Username, account.Password); err != nil {
		return nil, m.classify(ctx, account, client, err, logger)
	}

	logger.Info("logged in with credentials")
	return m.adopt(ctx, account, client, logger), nil
}

// adopt persists the client's session and caches it as the account's live handle.
// Persistence failures are logged and do not fail the login.
func (m *Manager) adopt(ctx context.Context, account *models.Account, client platform.Client, logger *log.Logger) *Handle {
	now := m.now()

	if settings, err := client.Settings(); err != nil {
		logger.Warn("could not export session settings", "error", err)
	} else if err := m.store.Save(ctx, NewBlob(account.ID, account.Username, settings, now)); err != nil {
		logger.Error("failed to persist session", "error", err)
	}

	handle := &Handle{
		AccountID:  account.ID,
		Username:   account.Username,
		Client:     client,
		AcquiredAt: now,
		live:       true,
	}

	m.mu.Lock()
	m.handles[account.ID] = handle
	delete(m.pending, account.ID)
	m.mu.Unlock()

	return handle
}

// classify maps a credential login failure to a terminal error and applies the account state change.
func (m *Manager) classify(ctx context.Context, account *models.Account, client platform.Client, err error, logger *log.Logger) error {
	switch {
	case errors.Is(err, platform.ErrBadPassword):
		logger.Warn("credentials rejected, deactivating account", "error", err)
		if serr := m.accounts.SetStatus(ctx, account.ID, false, false); serr != nil {
			logger.Error("failed to deactivate account", "error", serr)
		}
		return fmt.Errorf("%w: %s: %v", shared.ErrInvalidCredentials, account.Username, err)

	case errors.Is(err, platform.ErrChallengeRequired):
		logger.Warn("challenge required, suspending account", "error", err)
		if serr := m.accounts.SetStatus(ctx, account.ID, false, true); serr != nil {
			logger.Error("failed to suspend account", "error", serr)
		}
		if rerr := client.RequestChallengeCode(ctx); rerr != nil {
			logger.Warn("failed to request challenge code", "error", rerr)
		}
		m.mu.Lock()
		m.pending[account.ID] = client
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", shared.ErrChallengeRequired, account.Username, err)

	default:
		logger.Error("login failed", "error", err)
		return fmt.Errorf("%w: %s: %v", shared.ErrUnknownAuthFailure, account.Username, err)
	}
}

func (m *Manager) clientOptions(ctx context.Context, account *models.Account, logger *log.Logger) platform.Options {
	opts := platform.Options{Logger: logger}
	if !account.HasProxy() || m.proxies == nil {
		return opts
	}

	proxy, err := m.proxies.Get(ctx, *account.ProxyID)
	switch {
	case err != nil:
		logger.Warn("linked proxy unavailable, connecting directly", "proxy", *account.ProxyID, "error", err)
	case !proxy.IsActive:
		logger.Warn("linked proxy is disabled, connecting directly", "proxy", proxy.Redacted())
	default:
		opts.Proxy = proxy.URL()
	}
	return opts
}

// Check returns a handle known to be live, probing the cached one and re-acquiring when the probe fails.
func (m *Manager) Check(ctx context.Context, accountID string) (*Handle, error) {
	unlock := m.lock(accountID)
	defer unlock()

	m.mu.Lock()
	handle := m.handles[accountID]
	m.mu.Unlock()

	if handle != nil && handle.live {
		err := handle.Client.ProbeLiveness(ctx)
		if err == nil {
			return handle, nil
		}
		handle.live = false
		m.logger.Info("session probe failed, re-acquiring", "account", handle.Username, "error", err)
	}

	return m.acquire(ctx, accountID)
}

// Release logs the account out and drops its handle. Logout errors are logged only.
func (m *Manager) Release(ctx context.Context, accountID string) {
	unlock := m.lock(accountID)
	defer unlock()

	m.mu.Lock()
	handle := m.handles[accountID]
	delete(m.handles, accountID)
	delete(m.pending, accountID)
	m.mu.Unlock()

	if handle == nil {
		return
	}
	handle.live = false
	if err := handle.Client.Logout(ctx); err != nil {
		m.logger.Warn("logout failed", "account", handle.Username, "error", err)
	}
}

// Forget releases the account and deletes its stored session.
func (m *Manager) Forget(ctx context.Context, accountID string) error {
	m.Release(ctx, accountID)
	return m.store.Remove(accountID)
}

// Validate logs in regardless of the account's activity flags and records the outcome.
//
// A successful login reactivates the account; bad credentials deactivate it and a challenge suspends it.
func (m *Manager) Validate(ctx context.Context, accountID string) Validation {
	unlock := m.lock(accountID)
	defer unlock()

	result := Validation{AccountID: accountID}

	account, err := m.accounts.Get(ctx, accountID)
	if err != nil {
		result.Verdict = VerdictError
		result.Error = err.Error()
		return result
	}
	result.Username = account.Username

	if _, err := m.login(ctx, account); err != nil {
		result.Error = err.Error()
		switch {
		case errors.Is(err, shared.ErrInvalidCredentials):
			result.Verdict = VerdictInvalidCredentials
		case errors.Is(err, shared.ErrChallengeRequired):
			result.Verdict = VerdictChallenge
		default:
			result.Verdict = VerdictError
		}
		return result
	}

	if err := m.accounts.SetStatus(ctx, accountID, true, false); err != nil {
		result.Verdict = VerdictError
		result.Error = err.Error()
		return result
	}

	result.Verdict = VerdictValid
	return result
}

// VerifyChallenge submits a verification code on the client that hit the challenge,
// then persists the session and reactivates the account.
func (m *Manager) VerifyChallenge(ctx context.Context, accountID, code string) (*Handle, error) {
	unlock := m.lock(accountID)
	defer unlock()

	m.mu.Lock()
	client := m.pending[accountID]
	m.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrNoPendingChallenge, accountID)
	}

	account, err := m.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	logger := shared.WithLogger(m.logger, "account", account.Username)

	if err := client.SubmitChallengeCode(ctx, code); err != nil {
		if errors.Is(err, platform.ErrChallengeRequired) {
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrChallengeRequired, account.Username, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrUnknownAuthFailure, account.Username, err)
	}
	if err := client.ProbeLiveness(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: session not usable after verification: %v", shared.ErrUnknownAuthFailure, account.Username, err)
	}

	if err := m.accounts.SetStatus(ctx, accountID, true, false); err != nil {
		return nil, err
	}

	logger.Info("challenge verified")
	return m.adopt(ctx, account, client, logger), nil
}

// PendingChallenge reports whether a verification code can be submitted for the account.
func (m *Manager) PendingChallenge(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[accountID]
	return ok
}

// Cached returns the cached handle for an account, if any.
func (m *Manager) Cached(accountID string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[accountID]
	return h, ok
}

// Close releases every cached handle.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Release(ctx, id)
	}
}
