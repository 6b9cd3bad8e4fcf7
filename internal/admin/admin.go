// package admin wires persistence, sessions and the executor into the operator-facing operations
// shared by the CLI, the JSON API and the dashboard.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/repositories"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
)

// Opts configures a [Service].
type Opts struct {
	Accounts    *repositories.AccountRepository
	Proxies     *repositories.ProxyRepository
	Tasks       *repositories.TaskRepository
	Sessions    *session.Manager
	Executor    *tasks.Executor
	MediaDir    string
	Concurrency int // parallel logins during validity sweeps
	Logger      *log.Logger
}

// Service implements the operator workflows.
type Service struct {
	accounts    *repositories.AccountRepository
	proxies     *repositories.ProxyRepository
	tasks       *repositories.TaskRepository
	sessions    *session.Manager
	executor    *tasks.Executor
	mediaDir    string
	concurrency int
	logger      *log.Logger
}

// New creates a [Service].
func New(opts Opts) *Service {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Service{
		accounts:    opts.Accounts,
		proxies:     opts.Proxies,
		tasks:       opts.Tasks,
		sessions:    opts.Sessions,
		executor:    opts.Executor,
		mediaDir:    opts.MediaDir,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

// AccountView is an account with its linked proxy resolved for display.
type AccountView struct {
	*models.Account
	Status string `json:"status"`
	Proxy  string `json:"proxy,omitempty"`
}

// ProxyView is a proxy with the number of accounts using it.
type ProxyView struct {
	*models.Proxy
	URL      string `json:"url"`
	Accounts int    `json:"accounts"`
}

// Stats summarizes stored entities.
type Stats struct {
	Accounts       int                       `json:"accounts"`
	ActiveAccounts int                       `json:"active_accounts"`
	Challenged     int                       `json:"challenged_accounts"`
	Proxies        int                       `json:"proxies"`
	Tasks          map[models.TaskStatus]int `json:"tasks"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// ListAccounts returns every account with its status and redacted proxy.
func (s *Service) ListAccounts(ctx context.Context, criteria map[string]any) ([]AccountView, error) {
	accounts, err := s.accounts.List(ctx, criteria)
	if err != nil {
		return nil, err
	}

	proxies, err := s.proxyIndex(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		view := AccountView{Account: a, Status: a.Status()}
		if a.HasProxy() {
			if p, ok := proxies[*a.ProxyID]; ok {
				view.Proxy = p.Redacted()
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// ListProxies returns every proxy with its usage count.
func (s *Service) ListProxies(ctx context.Context) ([]ProxyView, error) {
	proxies, err := s.proxies.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	usage, err := s.proxies.Usage(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]ProxyView, 0, len(proxies))
	for _, p := range proxies {
		views = append(views, ProxyView{Proxy: p, URL: p.Redacted(), Accounts: usage[p.ID]})
	}
	return views, nil
}

// CreateProxy parses and stores a proxy URL.
func (s *Service) CreateProxy(ctx context.Context, rawURL string) (*models.Proxy, error) {
	proxy, err := models.ParseProxyURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := s.proxies.Create(ctx, proxy); err != nil {
		return nil, err
	}
	s.logger.Info("proxy created", "proxy", proxy.Redacted())
	return proxy, nil
}

// DeleteProxy removes a proxy and unlinks it from every account.
func (s *Service) DeleteProxy(ctx context.Context, id string) error {
	if err := s.proxies.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("proxy deleted", "proxy", id)
	return nil
}

// SetProxyActive enables or disables a proxy without unlinking it.
func (s *Service) SetProxyActive(ctx context.Context, id string, active bool) error {
	proxy, err := s.proxies.Get(ctx, id)
	if err != nil {
		return err
	}
	proxy.IsActive = active
	return s.proxies.Update(ctx, proxy)
}

// AssignProxy links an account to a proxy, or unlinks it when proxyID is empty.
// The cached session is dropped so the next login uses the new route.
func (s *Service) AssignProxy(ctx context.Context, accountID, proxyID string) error {
	if err := s.accounts.AssignProxy(ctx, accountID, proxyID); err != nil {
		return err
	}
	s.sessions.Release(ctx, accountID)
	return nil
}

// Stats counts accounts, proxies and tasks by status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	accounts, err := s.accounts.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	proxies, err := s.proxies.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Accounts:    len(accounts),
		Proxies:     len(proxies),
		Tasks:       counts,
		GeneratedAt: time.Now().UTC(),
	}
	for _, a := range accounts {
		switch a.Status() {
		case "active":
			stats.ActiveAccounts++
		case "challenge":
			stats.Challenged++
		}
	}
	return stats, nil
}

func (s *Service) proxyIndex(ctx context.Context) (map[string]*models.Proxy, error) {
	proxies, err := s.proxies.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*models.Proxy, len(proxies))
	for _, p := range proxies {
		index[p.ID] = p
	}
	return index, nil
}

// IsNotFound reports whether err means a referenced entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrAccountNotFound) ||
		errors.Is(err, shared.ErrTaskNotFound) ||
		errors.Is(err, shared.ErrProxyNotFound)
}

// IsConflict reports whether err means the request clashes with stored state.
func IsConflict(err error) bool {
	return errors.Is(err, shared.ErrDuplicateEntry) ||
		errors.Is(err, shared.ErrInvalidState) ||
		errors.Is(err, shared.ErrNotDue)
}

// IsInvalid reports whether err means the request itself was malformed.
func IsInvalid(err error) bool {
	return errors.Is(err, shared.ErrInvalidInput) ||
		errors.Is(err, shared.ErrInvalidArgument) ||
		errors.Is(err, shared.ErrMissingArgument)
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
