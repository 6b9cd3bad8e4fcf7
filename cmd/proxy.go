package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/postmate/internal/shared"
)

// ProxyAdd stores a proxy from its URL.
func (r *Runner) ProxyAdd(ctx context.Context, cmd *cli.Command) error {
	raw := strings.TrimSpace(cmd.StringArg("url"))
	if raw == "" {
		return fmt.Errorf("%w: url", shared.ErrMissingArgument)
	}

	svc, err := r.service()
	if err != nil {
		return err
	}
	proxy, err := svc.CreateProxy(ctx, raw)
	if err != nil {
		return err
	}

	r.writePlain("✓ Proxy %s added (%s)\n", proxy.ID, proxy.Redacted())
	return nil
}

// ProxyList prints proxies with credentials redacted.
func (r *Runner) ProxyList(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service()
	if err != nil {
		return err
	}
	views, err := svc.ListProxies(ctx)
	if err != nil {
		return err
	}
	return r.render(cmd, views)
}

// ProxyDelete removes a proxy; linked accounts fall back to direct connections.
func (r *Runner) ProxyDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := proxyID(cmd)
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}
	if err := svc.DeleteProxy(ctx, id); err != nil {
		return err
	}
	r.writePlain("✓ Deleted proxy %s\n", id)
	return nil
}

// ProxyEnable marks a proxy usable again.
func (r *Runner) ProxyEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setProxyActive(ctx, cmd, true)
}

// ProxyDisable stops routing through a proxy without unlinking its accounts.
func (r *Runner) ProxyDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setProxyActive(ctx, cmd, false)
}

func (r *Runner) setProxyActive(ctx context.Context, cmd *cli.Command, active bool) error {
	id, err := proxyID(cmd)
	if err != nil {
		return err
	}
	svc, err := r.service()
	if err != nil {
		return err
	}
	if err := svc.SetProxyActive(ctx, id, active); err != nil {
		return err
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	r.writePlain("✓ Proxy %s %s\n", id, state)
	return nil
}

func proxyID(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return "", fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}
	return id, nil
}
