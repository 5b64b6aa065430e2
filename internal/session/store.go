package session

import (
	"context"
	"errors"

	"github.com/2beens/gymlog/internal/backend"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrFlowNotFound    = errors.New("sign in flow not found or expired")
)

// Store keeps backend sessions under opaque session ids, and the PKCE code
// verifiers of sign in flows that are waiting for the provider callback.
type Store interface {
	Get(ctx context.Context, id string) (*backend.Session, error)
	Save(ctx context.Context, id string, s *backend.Session) error
	Delete(ctx context.Context, id string) error
	SaveFlow(ctx context.Context, flowID, codeVerifier string) error
	// TakeFlow returns the code verifier of the flow and forgets it.
	TakeFlow(ctx context.Context, flowID string) (string, error)
	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int64, error)
	// ScanAndClean drops bookkeeping of sessions that expired in the meantime.
	ScanAndClean(ctx context.Context)
}
