package domain

import (
	"strconv"
	"time"
)

// ReconciliationKey (avstemmingsnøkkel) ties a submitted transaction to the reconciliation
// batch that reports it. It is the submission instant in nanoseconds since the Unix epoch,
// so keys sort in submission order. The zero value means "not assigned".
type ReconciliationKey int64

// KeyAt returns the key for the instant t.
func KeyAt(t time.Time) ReconciliationKey {
	return ReconciliationKey(t.UnixNano())
}

// ParseKey parses the decimal form produced by String.
func ParseKey(value string) (ReconciliationKey, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return ReconciliationKey(n), nil
}

func (k ReconciliationKey) IsZero() bool {
	return k == 0
}

// Time returns the instant the key was generated for.
func (k ReconciliationKey) Time() time.Time {
	return time.Unix(0, int64(k)).UTC()
}

func (k ReconciliationKey) String() string {
	return strconv.FormatInt(int64(k), 10)
}
