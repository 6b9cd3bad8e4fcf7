package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
)

// AccountAdd stores an account, optionally logging in to verify it.
func (r *Runner) AccountAdd(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}

	in := admin.AccountInput{
		Username:      cmd.String("username"),
		Password:      cmd.String("password"),
		Email:         cmd.String("email"),
		EmailPassword: cmd.String("email-password"),
		ProxyID:       cmd.String("proxy"),
	}
	account, err := svc.CreateAccount(ctx, in, cmd.Bool("verify"))
	if err != nil {
		if account != nil && errors.Is(err, shared.ErrChallengeRequired) {
			r.writePlain("! Account %s added but the platform requires verification\n", account.Username)
			r.writePlain("  Run: postmate account verify --code <code> %s\n", account.Username)
			return nil
		}
		if account != nil {
			r.writePlain("! Account %s added but the login check failed; retry with: postmate account check\n", account.Username)
		}
		return err
	}

	r.writePlain("✓ Account %s added (#%d, %s)\n", account.Username, account.Sequence, account.ID)
	return nil
}

// AccountImport bulk-creates accounts from username:password lines.
func (r *Runner) AccountImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	in := r.input
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	svc, err := r.service()
	if err != nil {
		return err
	}
	report, err := svc.ImportAccounts(ctx, in)
	if err != nil {
		return err
	}
	return r.render(cmd, report)
}

// AccountList prints accounts.
func (r *Runner) AccountList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}

	criteria := map[string]any{}
	if cmd.Bool("active") {
		criteria["active"] = true
	}
	views, err := svc.ListAccounts(ctx, criteria)
	if err != nil {
		return err
	}
	return r.render(cmd, views)
}

// AccountDelete removes one account with its tasks and stored session.
func (r *Runner) AccountDelete(ctx context.Context, cmd *cli.Command) error {
	svc, account, err := r.resolveAccount(ctx, cmd.StringArg("account"))
	if err != nil {
		return err
	}

	removed, err := svc.DeleteAccount(ctx, account.ID)
	if err != nil {
		return err
	}
	r.writePlain("✓ Deleted %s and %d task(s)\n", account.Username, removed)
	return nil
}

// AccountDeleteAll removes every account, reporting each failure.
func (r *Runner) AccountDeleteAll(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: pass --yes to delete every account", shared.ErrMissingArgument)
	}

	svc, err := r.service()
	if err != nil {
		return err
	}
	report, err := svc.DeleteAllAccounts(ctx)
	if err != nil {
		return err
	}

	r.writePlain("✓ Deleted %d account(s) and %d task(s)\n", len(report.Deleted), report.TasksRemoved)
	for _, f := range report.Failed {
		r.writePlain("✗ %s: %s\n", f.Username, f.Reason)
	}
	return nil
}

// AccountCheck logs every account in and prints one verdict per account.
func (r *Runner) AccountCheck(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}

	results, err := svc.CheckValidity(ctx)
	if err != nil {
		return err
	}
	if err := r.render(cmd, results); err != nil {
		return err
	}

	if cmd.Bool("json") || cmd.String("format") != "text" {
		return nil
	}
	var valid int
	for _, res := range results {
		if res.Verdict == session.VerdictValid {
			valid++
		}
	}
	r.writePlain("\n%d/%d account(s) valid\n", valid, len(results))
	return nil
}

// AccountVerify submits a verification code for a suspended account.
//
// Pending challenges live in memory, so a fresh process logs in again first,
// which makes the platform send a new code.
func (r *Runner) AccountVerify(ctx context.Context, cmd *cli.Command) error {
	svc, account, err := r.resolveAccount(ctx, cmd.StringArg("account"))
	if err != nil {
		return err
	}

	pending, err := svc.RequestChallenge(ctx, account.ID)
	if err != nil {
		return err
	}
	if !pending {
		r.writePlain("✓ Account %s logged in without verification\n", account.Username)
		return nil
	}

	code := strings.TrimSpace(cmd.String("code"))
	if code == "" {
		r.writePlain("Verification code for %s: ", account.Username)
		line, err := bufio.NewReader(r.input).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read code: %w", err)
		}
		code = strings.TrimSpace(line)
	}

	if _, err := svc.VerifyChallenge(ctx, account.ID, code); err != nil {
		return err
	}
	r.writePlain("✓ Account %s verified and active\n", account.Username)
	return nil
}

// AccountProxy links or unlinks an account's proxy.
func (r *Runner) AccountProxy(ctx context.Context, cmd *cli.Command) error {
	proxyID := strings.TrimSpace(cmd.String("proxy"))
	unlink := cmd.Bool("clear")
	if proxyID == "" && !unlink {
		return fmt.Errorf("%w: --proxy or --clear", shared.ErrMissingArgument)
	}
	if proxyID != "" && unlink {
		return fmt.Errorf("%w: cannot specify both --proxy and --clear", shared.ErrInvalidArgument)
	}

	svc, account, err := r.resolveAccount(ctx, cmd.StringArg("account"))
	if err != nil {
		return err
	}
	if err := svc.AssignProxy(ctx, account.ID, proxyID); err != nil {
		return err
	}

	if unlink {
		r.writePlain("✓ %s now connects directly\n", account.Username)
	} else {
		r.writePlain("✓ %s now routes through proxy %s\n", account.Username, proxyID)
	}
	return nil
}

func (r *Runner) resolveAccount(ctx context.Context, ref string) (*admin.Service, *models.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil, fmt.Errorf("%w: account", shared.ErrMissingArgument)
	}
	svc, err := r.service()
	if err != nil {
		return nil, nil, err
	}
	account, err := svc.ResolveAccount(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	return svc, account, nil
}
