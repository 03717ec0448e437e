package types

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindConfig Kind = iota + 1
	KindConnection
	KindSchema
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindConnection:
		return "connection error"
	case KindSchema:
		return "schema error"
	case KindTransfer:
		return "transfer error"
	default:
		return "error"
	}
}

// Error classifies a failure by the scope it aborts. Config and connection
// errors abort a run; schema and transfer errors abort a single table.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrConnection = &Error{Kind: KindConnection}
	ErrSchema     = &Error{Kind: KindSchema}
	ErrTransfer   = &Error{Kind: KindTransfer}
)

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSchema) works
// regardless of Op and the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func ConfigError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

func ConnectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func SchemaError(op string, err error) error {
	return &Error{Kind: KindSchema, Op: op, Err: err}
}

func TransferError(op string, err error) error {
	return &Error{Kind: KindTransfer, Op: op, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
