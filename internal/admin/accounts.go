package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/repositories"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
)

// AccountInput carries the fields an operator supplies for a new account.
type AccountInput struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Email         string `json:"email,omitempty"`
	EmailPassword string `json:"email_password,omitempty"`
	ProxyID       string `json:"proxy_id,omitempty"`
}

// BulkReport partitions an import. Row numbers are 1-based input line numbers.
type BulkReport struct {
	Created []*models.Account          `json:"created"`
	Failed  []repositories.BulkFailure `json:"failed"`
}

// DeleteReport partitions a bulk delete.
type DeleteReport struct {
	Deleted      []string                   `json:"deleted"`
	TasksRemoved int64                      `json:"tasks_removed"`
	Failed       []repositories.BulkFailure `json:"failed"`
}

// CreateAccount stores a new account. With verify, a login follows immediately:
// rejected credentials remove the account again. A challenge leaves it suspended
// for [Service.VerifyChallenge], and any other login failure keeps it for a later
// retry; both return the stored account alongside the error.
func (s *Service) CreateAccount(ctx context.Context, in AccountInput, verify bool) (*models.Account, error) {
	account := models.NewAccount(in.Username, in.Password)
	account.Email = strings.TrimSpace(in.Email)
	account.EmailPassword = in.EmailPassword

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	logger := shared.WithLogger(s.logger, "account", account.Username)
	logger.Info("account created", "id", account.ID)

	if in.ProxyID != "" {
		if err := s.accounts.AssignProxy(ctx, account.ID, in.ProxyID); err != nil {
			s.discard(ctx, account)
			return nil, err
		}
		account.ProxyID = &in.ProxyID
	}

	if !verify {
		return account, nil
	}

	_, err := s.sessions.Acquire(ctx, account.ID)
	switch {
	case err == nil:
		logger.Info("account verified")
		return s.accounts.Get(ctx, account.ID)
	case errors.Is(err, shared.ErrInvalidCredentials):
		logger.Warn("credentials rejected, discarding account", "error", err)
		s.discard(ctx, account)
		return nil, err
	default:
		if !errors.Is(err, shared.ErrChallengeRequired) {
			logger.Warn("login failed, account kept for retry", "error", err)
		}
		stored, gerr := s.accounts.Get(ctx, account.ID)
		if gerr != nil {
			return nil, errors.Join(err, gerr)
		}
		return stored, err
	}
}

func (s *Service) discard(ctx context.Context, account *models.Account) {
	if _, err := s.accounts.DeleteCascade(ctx, account.ID); err != nil {
		s.logger.Error("failed to discard account", "account", account.Username, "error", err)
	}
	if err := s.sessions.Forget(ctx, account.ID); err != nil {
		s.logger.Warn("failed to remove session", "account", account.Username, "error", err)
	}
}

// ImportAccounts reads username:password lines and stores each account independently.
//
// Blank lines and lines starting with # are skipped. A line without a delimiter or with an
// empty side is reported as failed; it never prevents the other rows from being stored.
func (s *Service) ImportAccounts(ctx context.Context, r io.Reader) (*BulkReport, error) {
	report := &BulkReport{}

	var (
		accounts []*models.Account
		lines    []int
	)

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		username, password, ok := strings.Cut(line, ":")
		username, password = strings.TrimSpace(username), strings.TrimSpace(password)
		if !ok || username == "" || password == "" {
			err := fmt.Errorf("%w: expected username:password", shared.ErrInvalidInput)
			report.Failed = append(report.Failed, repositories.BulkFailure{
				Row:      n,
				Username: username,
				Reason:   err.Error(),
				Err:      err,
			})
			continue
		}

		accounts = append(accounts, models.NewAccount(username, password))
		lines = append(lines, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import: %w", err)
	}

	result := s.accounts.BulkCreate(ctx, accounts)
	report.Created = result.Created
	for _, failure := range result.Failed {
		failure.Row = lines[failure.Row-1]
		report.Failed = append(report.Failed, failure)
	}
	sort.SliceStable(report.Failed, func(i, j int) bool { return report.Failed[i].Row < report.Failed[j].Row })

	s.logger.Info("accounts imported", "created", len(report.Created), "failed", len(report.Failed))
	return report, nil
}

// DeleteAccount releases the session, removes the account with its tasks and deletes the stored session.
func (s *Service) DeleteAccount(ctx context.Context, id string) (int64, error) {
	s.sessions.Release(ctx, id)

	removed, err := s.accounts.DeleteCascade(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.sessions.Forget(ctx, id); err != nil {
		s.logger.Warn("failed to remove session", "account", id, "error", err)
	}

	s.logger.Info("account deleted", "account", id, "tasks_removed", removed)
	return removed, nil
}

// DeleteAllAccounts deletes every account independently and reports each outcome.
func (s *Service) DeleteAllAccounts(ctx context.Context) (*DeleteReport, error) {
	accounts, err := s.accounts.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{Deleted: []string{}}
	for i, a := range accounts {
		removed, err := s.DeleteAccount(ctx, a.ID)
		if err != nil {
			report.Failed = append(report.Failed, repositories.BulkFailure{
				Row:      i + 1,
				Username: a.Username,
				Reason:   err.Error(),
				Err:      err,
			})
			continue
		}
		report.Deleted = append(report.Deleted, a.Username)
		report.TasksRemoved += removed
	}
	return report, nil
}

// CheckValidity logs every account in again and reports one verdict per account.
func (s *Service) CheckValidity(ctx context.Context) ([]session.Validation, error) {
	accounts, err := s.accounts.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	results := tasks.SweepValidity(ctx, s.sessions, accounts, s.concurrency)

	counts := tasks.CountVerdicts(results)
	s.logger.Info("validity check finished",
		"valid", counts[session.VerdictValid],
		"invalid", counts[session.VerdictInvalidCredentials],
		"challenge", counts[session.VerdictChallenge],
		"error", counts[session.VerdictError])
	return results, nil
}

// VerifyChallenge submits a verification code for a suspended account.
func (s *Service) VerifyChallenge(ctx context.Context, accountID, code string) (*models.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: verification code", shared.ErrMissingArgument)
	}
	if _, err := s.sessions.VerifyChallenge(ctx, accountID, code); err != nil {
		return nil, err
	}
	return s.accounts.Get(ctx, accountID)
}

// RequestChallenge makes sure a verification code can be submitted for the account in this process.
// It logs in again when no challenge is pending, which asks the platform to send a new code.
// The result is false when the login succeeded and no code is needed.
func (s *Service) RequestChallenge(ctx context.Context, accountID string) (bool, error) {
	if s.sessions.PendingChallenge(accountID) {
		return true, nil
	}

	result := s.sessions.Validate(ctx, accountID)
	switch result.Verdict {
	case session.VerdictChallenge:
		return true, nil
	case session.VerdictValid:
		return false, nil
	case session.VerdictInvalidCredentials:
		return false, fmt.Errorf("%w: %s", shared.ErrInvalidCredentials, result.Username)
	default:
		return false, fmt.Errorf("%w: %s", shared.ErrUnknownAuthFailure, result.Error)
	}
}

// ResolveAccount finds an account by id or username.
func (s *Service) ResolveAccount(ctx context.Context, ref string) (*models.Account, error) {
	account, err := s.accounts.Get(ctx, ref)
	if errors.Is(err, shared.ErrAccountNotFound) {
		return s.accounts.GetByUsername(ctx, ref)
	}
	return account, err
}
