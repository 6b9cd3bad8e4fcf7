package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/postmate/internal/shared"
)

// ProxyScheme is the transport used to reach a proxy.
type ProxyScheme string

const (
	ProxyHTTP   ProxyScheme = "http"
	ProxyHTTPS  ProxyScheme = "https"
	ProxySOCKS4 ProxyScheme = "socks4"
	ProxySOCKS5 ProxyScheme = "socks5"
)

// Valid reports whether s is a supported scheme.
func (s ProxyScheme) Valid() bool {
	switch s {
	case ProxyHTTP, ProxyHTTPS, ProxySOCKS4, ProxySOCKS5:
		return true
	}
	return false
}

// Proxy is a network proxy that accounts may be routed through.
type Proxy struct {
	ID        string      `db:"id" json:"id"`
	Sequence  int         `db:"sequence" json:"sequence"`
	Scheme    ProxyScheme `db:"scheme" json:"scheme"`
	Host      string      `db:"host" json:"host"`
	Port      int         `db:"port" json:"port"`
	Username  string      `db:"username" json:"username,omitempty"`
	Password  string      `db:"password" json:"-"`
	IsActive  bool        `db:"is_active" json:"is_active"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// NewProxy creates an active [Proxy] with timestamps set to now.
func NewProxy(scheme ProxyScheme, host string, port int) *Proxy {
	now := time.Now().UTC()
	return &Proxy{
		Scheme:    scheme,
		Host:      host,
		Port:      port,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Proxy) GetID() string      { return p.ID }
func (p *Proxy) Created() time.Time { return p.CreatedAt }
func (p *Proxy) Updated() time.Time { return p.UpdatedAt }

// Validate checks the scheme, host and port.
func (p *Proxy) Validate() error {
	if !p.Scheme.Valid() {
		return fmt.Errorf("%w: unsupported proxy scheme %q", shared.ErrInvalidInput, p.Scheme)
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("%w: proxy host is required", shared.ErrInvalidInput)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: proxy port %d out of range", shared.ErrInvalidInput, p.Port)
	}
	return nil
}

// URL renders the proxy as scheme://[user:pass@]host:port.
func (p *Proxy) URL() string {
	u := url.URL{
		Scheme: string(p.Scheme),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// Redacted renders the proxy URL with the password masked.
func (p *Proxy) Redacted() string {
	u, err := url.Parse(p.URL())
	if err != nil {
		return p.Host
	}
	return u.Redacted()
}

// ParseProxyURL parses scheme://[user:pass@]host:port into a new [Proxy].
func ParseProxyURL(raw string) (*Proxy, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: proxy url: %v", shared.ErrInvalidInput, err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("%w: proxy port %q", shared.ErrInvalidInput, u.Port())
	}

	p := NewProxy(ProxyScheme(strings.ToLower(u.Scheme)), u.Hostname(), port)
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
