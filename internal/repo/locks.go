package repo

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"tigsync/internal/errors"
	shared "tigsync/shared/types"

	"go.uber.org/zap"
)

// Locks returns the lock list in insertion order.
func (r *Repository) Locks() ([]shared.LockRecord, error) {
	data, err := os.ReadFile(r.path(locksFile))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []shared.LockRecord{}, nil
		}
		return nil, fmt.Errorf("reading locks: %w", err)
	}
	locks := []shared.LockRecord{}
	if len(data) == 0 {
		return locks, nil
	}
	if err := json.Unmarshal(data, &locks); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeIntegrity, "decoding locks", err)
	}
	return locks, nil
}

func (r *Repository) writeLocks(locks []shared.LockRecord) error {
	data, err := json.MarshalIndent(locks, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding locks: %w", err)
	}
	if err := writeFileAtomic(r.path(locksFile), data); err != nil {
		return fmt.Errorf("writing locks: %w", err)
	}
	return nil
}

// Lock appends a record for path and owner. An existing lock on path is
// not checked; the list is an advisory notice board and the last write wins.
func (r *Repository) Lock(path, owner string) (shared.LockRecord, error) {
	if path == "" || owner == "" {
		return shared.LockRecord{}, errors.ValidationError("lock requires path and owner", nil)
	}
	locks, err := r.Locks()
	if err != nil {
		return shared.LockRecord{}, err
	}
	record := shared.LockRecord{Path: path, Owner: owner, CreatedAt: time.Now().UTC()}
	locks = append(locks, record)
	if err := r.writeLocks(locks); err != nil {
		return shared.LockRecord{}, err
	}
	r.logger.Info("lock created", zap.String("path", path), zap.String("owner", owner))
	return record, nil
}

// Unlock removes every record matching both path and owner and returns how
// many were removed.
func (r *Repository) Unlock(path, owner string) (int, error) {
	locks, err := r.Locks()
	if err != nil {
		return 0, err
	}
	kept := locks[:0]
	for _, l := range locks {
		if l.Path == path && l.Owner == owner {
			continue
		}
		kept = append(kept, l)
	}
	removed := len(locks) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := r.writeLocks(kept); err != nil {
		return 0, err
	}
	r.logger.Info("lock released", zap.String("path", path), zap.String("owner", owner), zap.Int("removed", removed))
	return removed, nil
}
