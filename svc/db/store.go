package db

import (
	"context"
	"fmt"

	"pasties/pkg/domain"
)

// Store is the storage gateway for paste records keyed by url.
// Update and Delete succeed when no row matches; callers check existence first.
type Store interface {
	Insert(ctx context.Context, p *domain.Paste) error
	Retrieve(ctx context.Context, url string) (*domain.Paste, error)
	Update(ctx context.Context, url string, f domain.PasteFields) error
	Delete(ctx context.Context, url string) error
	Ping(ctx context.Context) error
	Close() error
}

type Kind int

const (
	KindRead Kind = iota + 1
	KindWrite
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

var (
	ErrRead     = &StoreError{Kind: KindRead}
	ErrWrite    = &StoreError{Kind: KindWrite}
	ErrNotFound = &StoreError{Kind: KindNotFound}
	ErrConflict = &StoreError{Kind: KindConflict}
)

type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return "store: " + e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("store %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches on Kind so errors.Is(err, ErrNotFound) works for any wrapped StoreError.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func readErr(op string, err error) error {
	return &StoreError{Kind: KindRead, Op: op, Err: err}
}

func writeErr(op string, err error) error {
	return &StoreError{Kind: KindWrite, Op: op, Err: err}
}

func notFound(op string) error {
	return &StoreError{Kind: KindNotFound, Op: op}
}

func conflict(op string, err error) error {
	return &StoreError{Kind: KindConflict, Op: op, Err: err}
}
