// Package transport defines the boundary to the swarm and file servers
// and provides HTTP and WebSocket implementations of it. Timeouts, if
// any, are owned here — the core above never wraps these calls in its
// own deadlines.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/sesh-im/sesh-go/internal/protocol"
)

// FileServer stores opaque (already-encrypted) attachment blobs.
type FileServer interface {
	// Upload stores data and returns its download URL.
	Upload(ctx context.Context, data []byte) (string, error)
	// Download fetches the blob at url.
	Download(ctx context.Context, url string) ([]byte, error)
}

// Community stores plaintext attachments on a shared group server,
// scoped by room.
type Community interface {
	Upload(ctx context.Context, room string, data []byte) (string, error)
	Download(ctx context.Context, room, url string) ([]byte, error)
}

// MessageSender delivers an envelope to a destination and resolves once
// the swarm acknowledges it.
type MessageSender interface {
	Send(ctx context.Context, env *protocol.Envelope, destination string) error
}

// ServerError is a non-2xx response from a file or message endpoint.
// Status drives retry classification in the dispatch pipeline.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transport: server status %d: %s", e.Status, e.Body)
}

// Permanent reports whether the error indicates a protocol-level failure
// that retrying cannot fix (client errors other than rate limiting).
func (e *ServerError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 429
}

// ErrMalformedResponse indicates the server replied with a body the
// client cannot parse. Always permanent.
var ErrMalformedResponse = errors.New("transport: malformed server response")
