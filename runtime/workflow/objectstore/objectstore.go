// Package objectstore defines content-addressed binary storage keyed by
// (organization, id). Binary parameter values reference objects on the wire;
// the executor resolves references to bytes through a Store at runtime and
// writes node-produced bytes back before events leave the process.
//
// Ids are opaque, collision-resistant, and unguessable. Reads are idempotent;
// Put is not: each call yields a fresh id.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that no object exists for the given (orgID, id) pair.
var ErrNotFound = errors.New("object not found")

type (
	// Metadata records ownership and provenance for a stored object. The
	// organization owns the object; the execution that produced it references
	// it; retention follows the organization's policy.
	Metadata struct {
		// ID is the opaque object identifier.
		ID string `json:"id"`
		// MimeType tags the stored bytes.
		MimeType string `json:"mime_type"`
		// OrganizationID identifies the owning organization.
		OrganizationID string `json:"organization_id"`
		// ExecutionID identifies the execution that produced the object, if
		// any. Empty for objects uploaded directly by callers.
		ExecutionID string `json:"execution_id,omitempty"`
		// Size is the stored byte count.
		Size int64 `json:"size"`
		// CreatedAt records when the object was written.
		CreatedAt time.Time `json:"created_at"`
	}

	// Store maps (orgID, id) to (bytes, mimeType, metadata). Implementations
	// must be safe for concurrent use; the scheduler may resolve inputs for
	// several nodes in parallel.
	Store interface {
		// Put stores the bytes under a fresh unguessable id and returns it.
		// executionID may be empty for caller-uploaded objects.
		Put(ctx context.Context, orgID string, data []byte, mimeType, executionID string) (string, error)

		// Get returns the bytes and MIME type for the object. Returns
		// ErrNotFound (possibly wrapped) when the object does not exist or
		// belongs to a different organization.
		Get(ctx context.Context, orgID, id string) ([]byte, string, error)

		// PresignRead returns a URL that grants read access to the object for
		// the given TTL, for callers that must hand a URL to an external
		// service.
		PresignRead(ctx context.Context, orgID, id string, ttl time.Duration) (string, error)

		// Delete removes the object. Deleting a missing object is not an
		// error.
		Delete(ctx context.Context, orgID, id string) error
	}
)
