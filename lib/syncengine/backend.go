package syncengine

import (
	"context"
	"fmt"
	"io"
)

// Backend is the capability set the engine needs from one side (remote or
// local): a trait-object-style plug-in a concrete store implements, rather
// than a type the engine constructs itself.
type Backend interface {
	// ListFolders lists folder names currently present on this side.
	ListFolders(ctx context.Context) (FolderSet, error)
	// AddFolder creates a folder. Must be idempotent if the folder already
	// exists.
	AddFolder(ctx context.Context, name FolderName) error
	// DeleteFolder removes a folder and everything in it. Unguarded: callers
	// are expected to have already resolved the folder set before calling.
	DeleteFolder(ctx context.Context, name FolderName) error

	// ListEnvelopes lists envelope identities within a folder.
	ListEnvelopes(ctx context.Context, folder FolderName) ([]EnvelopeIdentity, error)
	// AddRawMessage appends raw RFC 5322 bytes to folder with the given
	// flags, returning the new envelope's internal ID.
	AddRawMessage(ctx context.Context, folder FolderName, raw []byte, flags FlagSet) (internalID string, err error)
	// PeekMessage fetches raw RFC 5322 bytes for internalID without marking
	// the message Seen.
	PeekMessage(ctx context.Context, folder FolderName, internalID string) (io.ReadCloser, error)
	// SetFlags overwrites the flag set for internalID.
	SetFlags(ctx context.Context, folder FolderName, internalID string, flags FlagSet) error
	// MoveMessages moves the given internal IDs from one folder to another
	// on this side.
	MoveMessages(ctx context.Context, from, to FolderName, internalIDs []string) error
	// ExpungeFolder permanently removes messages flagged Deleted.
	ExpungeFolder(ctx context.Context, folder FolderName) error
}

// RequireBackend rejects a backend missing the minimum capability subset at
// construction time. Every method above is mandatory for this engine (the
// spec does not define an optional-capability subset), so this currently
// only guards against a nil backend; it exists as the single seam a future
// reduced-capability backend would be validated through.
func RequireBackend(b Backend) error {
	if b == nil {
		return fmt.Errorf("%w: backend is nil", ErrConfiguration)
	}
	return nil
}
