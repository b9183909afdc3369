package shared

import (
	"fmt"

	"tigsync/internal/errors"
	"tigsync/shared/utils"
)

func validateObject(oid string) error {
	if !utils.IsValidHash(oid) {
		return errors.ValidationError(fmt.Sprintf("invalid object id %q", oid), nil)
	}
	return nil
}

func (r *UploadRequest) Validate() error {
	if err := validateObject(r.OID); err != nil {
		return err
	}
	if r.Chunk == "" {
		return errors.ValidationError("chunk is required", nil)
	}
	return nil
}

func (r *DownloadRequest) Validate() error {
	if err := validateObject(r.OID); err != nil {
		return err
	}
	if r.Chunk == "" {
		return errors.ValidationError("chunk is required", nil)
	}
	return nil
}

func (r *HasRequest) Validate() error {
	return validateObject(r.OID)
}

// Validate requires both fields. It does not look at existing locks.
func (r *LockRequest) Validate() error {
	if r.Path == "" || r.Owner == "" {
		return errors.ValidationError("lock requires path and owner", nil)
	}
	return nil
}
