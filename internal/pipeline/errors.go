package pipeline

import (
	"errors"
	"fmt"

	"github.com/ent0n29/lia/internal/execution"
)

// Kind is a failure category of one request.
type Kind int

const (
	KindClassification Kind = iota + 1
	KindGeneration
	KindValidationRejected
	KindEngineUnavailable
	KindExecutionTimeout
	KindExecutionFailure
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindClassification:
		return "classification_failure"
	case KindGeneration:
		return "generation_failure"
	case KindValidationRejected:
		return "validation_rejected"
	case KindEngineUnavailable:
		return "engine_unavailable"
	case KindExecutionTimeout:
		return "execution_timeout"
	case KindExecutionFailure:
		return "execution_failure"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Failure is something that went wrong while serving a request. Some kinds
// are recovered locally and only show up here, others shape the reply.
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	switch {
	case f.Reason != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	case f.Reason != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	default:
		return f.Kind.String()
	}
}

func (f *Failure) Unwrap() error { return f.Err }

func executionFailure(err error) *Failure {
	switch {
	case errors.Is(err, execution.ErrTimeout):
		return &Failure{Kind: KindExecutionTimeout, Err: err}
	case errors.Is(err, execution.ErrEngineUnavailable):
		return &Failure{Kind: KindEngineUnavailable, Err: err}
	default:
		return &Failure{Kind: KindExecutionFailure, Err: err}
	}
}
