package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and the bond service translates them into coded domain errors.
//
//   - ErrNotFound: the series, lot or owner record does not exist
//   - ErrAlreadyUsed: the identifier is already taken
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
)
