package certify

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateID indicates a version or case id already in use.
	ErrDuplicateID = errors.New("id already registered")
	// ErrUnknownVersion indicates a reference to a missing version.
	ErrUnknownVersion = errors.New("unknown configuration version")
	// ErrUnknownCase indicates a reference to a missing safety case.
	ErrUnknownCase = errors.New("unknown safety case")
	// ErrEvidenceMissing indicates approval of a safety case without
	// the required evidence categories.
	ErrEvidenceMissing = errors.New("required evidence missing")
	// ErrInvalidTransition indicates a status move backward or a skip.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// GateError reports a failed certification gate with one reason per
// failing clause. State is never mutated when it is returned.
type GateError struct {
	Version string
	Reasons []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("certification gate failed for %s: %s", e.Version, strings.Join(e.Reasons, "; "))
}

// StaleVersionError reports a version edited between gate evaluation
// and commit. The caller must re-evaluate.
type StaleVersionError struct {
	Version  string
	Observed uint64
	Current  uint64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("version %s changed between evaluate and certify (revision %d, evaluated at %d)",
		e.Version, e.Current, e.Observed)
}
