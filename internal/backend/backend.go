// Package backend is the portal REST boundary the call orchestrator depends on.
package backend

import (
	"context"
	"fmt"

	"github.com/foxseedlab/teleconsult/internal/transcript"
)

// JoinCredential is issued once per call attempt.
type JoinCredential struct {
	Token         string
	ChannelName   string
	AppID         string
	LocalIdentity string
	VideoCallID   string
}

type Client interface {
	GenerateToken(ctx context.Context, appointmentID string) (JoinCredential, error)
	StartCall(ctx context.Context, videoCallID string) error
	EndCall(ctx context.Context, videoCallID string, entries []transcript.Entry) error
}

// APIError is a non-2xx response. Message is the backend-supplied text and
// may be empty.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.StatusCode, e.Message)
}
