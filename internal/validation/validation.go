// Package validation decodes request bodies and runs their self checks.
package validation

import (
	"encoding/json"
	"net/http"

	"tigsync/internal/errors"
)

// Validator is implemented by request bodies that can check their own
// fields.
type Validator interface {
	Validate() error
}

// DecodeRequest decodes the JSON body of r into v, then validates v when
// it implements Validator.
func DecodeRequest(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("invalid request body", err.Error())
	}
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}
