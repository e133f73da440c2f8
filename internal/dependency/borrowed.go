package dependency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// BorrowedService wraps a dependency that is externally managed: the caller
// asserts it is already running, so Start only mints a handle and Stop is a
// no-op. Readiness is still verified by the wait loop before any build runs.
type BorrowedService struct {
	// Address of the external dependency, informational.
	Address string

	// ProbeEndpoint readiness probes check. Required.
	ProbeEndpoint string
}

func (s *BorrowedService) Start(ctx context.Context) (*Handle, error) {
	if s.ProbeEndpoint == "" {
		return nil, &StartError{Reason: "borrowed dependency needs a probe endpoint"}
	}
	return &Handle{
		ID:            uuid.New().String(),
		Address:       s.Address,
		ProbeEndpoint: s.ProbeEndpoint,
		StartedAt:     time.Now().UTC(),
		State:         StateStarting,
		Borrowed:      true,
	}, nil
}

func (s *BorrowedService) MarkReady(handle *Handle) error {
	if handle == nil {
		return errors.New("mark ready: nil handle")
	}
	handle.State = StateReady
	return nil
}

// Stop leaves the external dependency alone.
func (s *BorrowedService) Stop(handle *Handle) error {
	return nil
}
