package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/desertthunder/postmate/internal/shared"
)

// Blob is the durable session written to disk and mirrored into the account row.
type Blob struct {
	Username  string          `json:"username"`
	AccountID string          `json:"account_id"`
	LastLogin time.Time       `json:"last_login"`
	Settings  json.RawMessage `json:"settings"`
}

// NewBlob builds a blob for a successful login.
func NewBlob(accountID, username string, settings json.RawMessage, at time.Time) *Blob {
	return &Blob{
		Username:  username,
		AccountID: accountID,
		LastLogin: at.UTC(),
		Settings:  settings,
	}
}

// Encode serializes the blob as indented JSON.
func (b *Blob) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

// State tags what is known about a stored session.
type State int

const (
	StateEmpty    State = iota // nothing stored
	StateRaw                   // bytes loaded, not yet decoded
	StateRestored              // decoded and structurally valid
	StateInvalid               // undecodable or rejected by the platform
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRaw:
		return "raw"
	case StateRestored:
		return "restored"
	case StateInvalid:
		return "invalid"
	default:
		return ""
	}
}

// Record is a stored session together with its [State].
//
// Only a StateRestored record carries a Blob; a StateInvalid record carries the reason in Err.
type Record struct {
	State  State
	Source string // "file" or "database"
	Raw    []byte
	Blob   *Blob
	Err    error
}

// RawRecord wraps loaded bytes; empty input yields an empty record.
func RawRecord(source string, raw []byte) Record {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Record{State: StateEmpty, Source: source}
	}
	return Record{State: StateRaw, Source: source, Raw: raw}
}

// Decode moves a raw record to restored or invalid. Other states are returned unchanged.
func (r Record) Decode(accountID string) Record {
	if r.State != StateRaw {
		return r
	}

	var blob Blob
	if err := json.Unmarshal(r.Raw, &blob); err != nil {
		return r.Invalidate(fmt.Errorf("%w: %v", shared.ErrSessionRestoreFailed, err))
	}
	if len(blob.Settings) == 0 || !json.Valid(blob.Settings) || bytes.Equal(bytes.TrimSpace(blob.Settings), []byte("null")) {
		return r.Invalidate(fmt.Errorf("%w: blob has no settings", shared.ErrSessionRestoreFailed))
	}
	if blob.AccountID != "" && blob.AccountID != accountID {
		return r.Invalidate(fmt.Errorf("%w: blob belongs to account %s", shared.ErrSessionRestoreFailed, blob.AccountID))
	}

	r.State = StateRestored
	r.Blob = &blob
	return r
}

// Invalidate marks the record unusable for the given reason.
func (r Record) Invalidate(reason error) Record {
	r.State = StateInvalid
	r.Blob = nil
	r.Err = reason
	return r
}
