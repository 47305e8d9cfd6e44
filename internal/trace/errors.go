package trace

import "errors"

var (
	// ErrDuplicateID indicates a registration with an id already in use.
	ErrDuplicateID = errors.New("id already registered")
	// ErrUnknownRequirement indicates a reference to a requirement that
	// does not exist.
	ErrUnknownRequirement = errors.New("unknown requirement")
	// ErrUnknownVerification indicates a reference to a verification
	// objective that does not exist.
	ErrUnknownVerification = errors.New("unknown verification objective")
	// ErrUnknownTest indicates a reference to a test that does not exist.
	ErrUnknownTest = errors.New("unknown test")
	// ErrUnknownComponent indicates a change touching an id that is not
	// registered as any entity. The change is rejected whole.
	ErrUnknownComponent = errors.New("unknown component")
	// ErrInvalidStatus indicates a test result outside the recordable set.
	ErrInvalidStatus = errors.New("invalid test status")
)
