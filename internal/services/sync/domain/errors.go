package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure for redelivery decisions.
type ErrorKind string

const (
	// KindParse marks an unknown or malformed envelope. The message is acked.
	KindParse ErrorKind = "parse"
	// KindDecryption marks ciphertext that cannot be opened. Retrying cannot
	// change the ciphertext, so the message is rejected.
	KindDecryption ErrorKind = "decryption"
	// KindTransient marks network, timeout and remote 5xx failures.
	KindTransient ErrorKind = "transient"
	// KindValidation marks data the remote system rejected as invalid.
	KindValidation ErrorKind = "validation"
	// KindLogic marks states the pipeline refuses to guess about.
	KindLogic ErrorKind = "logic"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind  ErrorKind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	msg := "unknown error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s error at %s: %s", e.Kind, e.Stage, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classified(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Parse marks err as an envelope failure.
func Parse(err error) error { return classified(KindParse, err) }

// Decryption marks err as a ciphertext integrity failure.
func Decryption(err error) error { return classified(KindDecryption, err) }

// Transient marks err as retryable.
func Transient(err error) error { return classified(KindTransient, err) }

// Validation marks err as a remote rejection of the data.
func Validation(err error) error { return classified(KindValidation, err) }

// Logic marks err as an invariant the pipeline will not resolve on its own.
func Logic(err error) error { return classified(KindLogic, err) }

// AtStage records the stage err happened in. The innermost stage wins.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var target *Error
	if errors.As(err, &target) {
		if target.Stage != "" {
			return err
		}
		return &Error{Kind: target.Kind, Stage: stage, Err: target.Err}
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}

// KindOf reports the kind of err. Timeouts are always transient, and so are
// unclassified errors: a retry is safe because every stage is idempotent.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindTransient
}

// StageOf reports the stage recorded on err, if any.
func StageOf(err error) Stage {
	var target *Error
	if errors.As(err, &target) {
		return target.Stage
	}
	return ""
}

// IsFatal reports whether err will not succeed on retry.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindDecryption, KindValidation, KindLogic:
		return true
	default:
		return false
	}
}
