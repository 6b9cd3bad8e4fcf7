package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/postmate/internal/shared"
)

// Account is a platform identity with credentials, an optional proxy and the last persisted session blob.
type Account struct {
	ID               string     `db:"id" json:"id"`
	Sequence         int        `db:"sequence" json:"sequence"`
	Username         string     `db:"username" json:"username"`
	Password         string     `db:"password" json:"-"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	ChallengePending bool       `db:"challenge_pending" json:"challenge_pending"`
	ProxyID          *string    `db:"proxy_id" json:"proxy_id,omitempty"`
	Email            string     `db:"email" json:"email,omitempty"`
	EmailPassword    string     `db:"email_password" json:"-"`
	SessionData      string     `db:"session_data" json:"-"`
	LastLogin        *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// NewAccount creates an active [Account] with timestamps set to now.
func NewAccount(username, password string) *Account {
	now := time.Now().UTC()
	return &Account{
		Username:  strings.TrimSpace(username),
		Password:  password,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (a *Account) GetID() string      { return a.ID }
func (a *Account) Created() time.Time { return a.CreatedAt }
func (a *Account) Updated() time.Time { return a.UpdatedAt }

// Validate checks required credential fields.
func (a *Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("%w: username is required", shared.ErrInvalidInput)
	}
	if strings.ContainsAny(a.Username, " \t\r\n") {
		return fmt.Errorf("%w: username cannot contain whitespace", shared.ErrInvalidInput)
	}
	if a.Password == "" {
		return fmt.Errorf("%w: password is required", shared.ErrInvalidInput)
	}
	return nil
}

// Status summarizes the activity flags for display.
func (a *Account) Status() string {
	switch {
	case a.ChallengePending:
		return "challenge"
	case a.IsActive:
		return "active"
	default:
		return "inactive"
	}
}

// HasProxy reports whether a proxy is linked.
func (a *Account) HasProxy() bool {
	return a.ProxyID != nil && *a.ProxyID != ""
}
