package ragerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindConfig     Kind = "config"
	KindEmbedding  Kind = "embedding"
	KindRetrieval  Kind = "retrieval"
	KindGeneration Kind = "generation"
)

// Sentinels matched through errors.Is against any *Error of the same kind.
var (
	ErrConfig     = errors.New("config error")
	ErrEmbedding  = errors.New("embedding error")
	ErrRetrieval  = errors.New("retrieval error")
	ErrGeneration = errors.New("generation error")
)

// Error is a classified failure raised by one pipeline operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindEmbedding:
		return ErrEmbedding
	case KindRetrieval:
		return ErrRetrieval
	case KindGeneration:
		return ErrGeneration
	}
	return nil
}

func newError(kind Kind, op string, err error) error {
	// keep the innermost classification
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps an invalid parameter failure.
func Config(op string, err error) error {
	return newError(KindConfig, op, err)
}

// Configf builds a ConfigError from a format string.
func Configf(op, format string, args ...any) error {
	return &Error{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// Embedding wraps an embedding model failure.
func Embedding(op string, err error) error {
	return newError(KindEmbedding, op, err)
}

// Retrieval wraps a vector store failure.
func Retrieval(op string, err error) error {
	return newError(KindRetrieval, op, err)
}

// Generation wraps a generation model failure.
func Generation(op string, err error) error {
	return newError(KindGeneration, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
