package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

const sessionFile = "session.json"

// Mirror persists the session blob next to the account row.
type Mirror interface {
	UpdateSession(ctx context.Context, id, blob string, lastLogin time.Time) error
}

// Store keeps one session file per account under a root directory and mirrors it into the database.
type Store struct {
	dir    string
	mirror Mirror
	logger *log.Logger
}

// NewStore creates a [Store] rooted at dir.
func NewStore(dir string, mirror Mirror, logger *log.Logger) *Store {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Store{dir: dir, mirror: mirror, logger: logger}
}

// Path returns the session file location for an account.
func (s *Store) Path(accountID string) string {
	return filepath.Join(s.dir, accountID, sessionFile)
}

// Load reads the account's stored session and decodes it.
//
// The file is authoritative; the database mirror is used when the file is missing or unreadable.
func (s *Store) Load(account *models.Account) Record {
	raw, err := os.ReadFile(s.Path(account.ID))
	switch {
	case err == nil:
		if rec := RawRecord("file", raw).Decode(account.ID); rec.State != StateInvalid || account.SessionData == "" {
			return rec
		}
		s.logger.Warn("session file unusable, trying database copy", "account", account.ID)
	case !errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("failed to read session file", "account", account.ID, "error", err)
	}

	return RawRecord("database", []byte(account.SessionData)).Decode(account.ID)
}

// Save writes the blob to the session file and mirrors it into the account row.
//
// The file write is atomic so a crash never leaves a truncated blob behind.
func (s *Store) Save(ctx context.Context, blob *Blob) error {
	data, err := blob.Encode()
	if err != nil {
		return err
	}

	var errs []error
	if err := writeFileAtomic(s.Path(blob.AccountID), data); err != nil {
		errs = append(errs, err)
	}
	if s.mirror != nil {
		if err := s.mirror.UpdateSession(ctx, blob.AccountID, string(data), blob.LastLogin); err != nil {
			errs = append(errs, fmt.Errorf("failed to mirror session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Remove deletes the account's session directory.
func (s *Store) Remove(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", shared.ErrInvalidArgument)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, accountID)); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}
