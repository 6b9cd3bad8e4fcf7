package tasks

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/session"
)

// Validator re-checks one account's credentials.
type Validator interface {
	Validate(ctx context.Context, accountID string) session.Validation
}

// SweepValidity validates every account with at most concurrency logins at once.
// Results keep the order of accounts.
func SweepValidity(ctx context.Context, v Validator, accounts []*models.Account, concurrency int) []session.Validation {
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]session.Validation, len(accounts))

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, account := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = session.Validation{
					AccountID: account.ID,
					Username:  account.Username,
					Verdict:   session.VerdictError,
					Error:     err.Error(),
				}
				return nil
			}
			results[i] = v.Validate(ctx, account.ID)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// CountVerdicts tallies validation results by verdict.
func CountVerdicts(results []session.Validation) map[session.Verdict]int {
	counts := make(map[session.Verdict]int)
	for _, r := range results {
		counts[r.Verdict]++
	}
	return counts
}
