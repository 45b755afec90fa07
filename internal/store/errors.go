package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies store failures for run telemetry.
type ErrorKind string

const (
	KindConnectivity ErrorKind = "connectivity"
	KindConstraint   ErrorKind = "constraint"
	KindUnknown      ErrorKind = "unknown"
)

// StoreError wraps a persistence failure with its telemetry kind.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// wrapErr classifies err by Postgres error class: 23xxx constraint
// violations, 08xxx connection exceptions; everything else is unknown.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := KindUnknown
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			kind = KindConstraint
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			kind = KindConnectivity
		}
	} else if pgconn.Timeout(err) {
		kind = KindConnectivity
	}

	return &StoreError{Kind: kind, Op: op, Err: err}
}
