package domain

import (
	"strconv"
	"strings"

	dErrors "bondledger/pkg/domain-errors"
)

// CallerID identifies an authenticated caller. The ledger treats it as opaque
// and only compares it for equality. The empty value is the null identity.
type CallerID string

// NullCaller is the identity no one can authenticate as.
const NullCaller CallerID = ""

func (c CallerID) IsNull() bool { return c == NullCaller }

func (c CallerID) String() string { return string(c) }

// maxCallerIDLen bounds identities accepted at trust boundaries.
const maxCallerIDLen = 256

// ParseCallerID validates an identity supplied by a transport.
func ParseCallerID(s string) (CallerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NullCaller, dErrors.New(dErrors.CodeInvalidParameter, "caller identity is required")
	}
	if len(s) > maxCallerIDLen {
		return NullCaller, dErrors.New(dErrors.CodeInvalidParameter, "caller identity is too long")
	}
	return CallerID(s), nil
}

// SeriesID is assigned sequentially from 1 and never reused. Zero is never a
// valid series.
type SeriesID uint64

func (id SeriesID) IsZero() bool { return id == 0 }

func (id SeriesID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseSeriesID parses a decimal series identifier.
func ParseSeriesID(s string) (SeriesID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidParameter, "invalid series id")
	}
	if n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidParameter, "series id must be positive")
	}
	return SeriesID(n), nil
}
