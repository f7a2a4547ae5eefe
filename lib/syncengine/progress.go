package syncengine

import (
	"context"
	"fmt"
	"log"
)

// EventKind enumerates the progress events a run can emit. External
// observers must treat unknown variants as informational, so Handler
// implementations should default on an unrecognized Kind rather than fail.
type EventKind int

const (
	EventBuildFolderPatch EventKind = iota
	EventGetLocalCachedFolders
	EventGetLocalFolders
	EventGetRemoteCachedFolders
	EventGetRemoteFolders
	EventApplyFolderPatches
	EventApplyFolderHunk
	EventBuildEnvelopePatch
	EventEnvelopePatchBuilt
	EventGetLocalEnvelopes
	EventGetLocalCachedEnvelopes
	EventGetRemoteEnvelopes
	EventGetRemoteCachedEnvelopes
	EventApplyEnvelopePatches
	EventApplyEnvelopeHunk
	EventApplyEnvelopeCachePatch
	EventExpungeFolders
	EventFolderExpunged
)

// Event is a single progress occurrence. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind       EventKind
	Count      int        // listing sizes, patch counts
	Folder     FolderName // single-folder events
	Folders    FolderSet  // multi-folder events (BuildEnvelopePatch, ExpungeFolders)
	Hunk       Hunk       // ApplyFolderHunk / ApplyEnvelopeHunk
	HunkErr    error      // outcome carried alongside Hunk
	ExpungeErr error      // FolderExpunged outcome
}

func (e Event) String() string {
	switch e.Kind {
	case EventBuildFolderPatch:
		return "building folder patch"
	case EventGetLocalCachedFolders:
		return fmt.Sprintf("listed %d local cached folders", e.Count)
	case EventGetLocalFolders:
		return fmt.Sprintf("listed %d local folders", e.Count)
	case EventGetRemoteCachedFolders:
		return fmt.Sprintf("listed %d remote cached folders", e.Count)
	case EventGetRemoteFolders:
		return fmt.Sprintf("listed %d remote folders", e.Count)
	case EventApplyFolderPatches:
		return fmt.Sprintf("applying %d folder hunks", e.Count)
	case EventApplyFolderHunk:
		return fmt.Sprintf("applied %s (err=%v)", e.Hunk, e.HunkErr)
	case EventBuildEnvelopePatch:
		return fmt.Sprintf("building envelope patch for %d folders", len(e.Folders))
	case EventEnvelopePatchBuilt:
		return fmt.Sprintf("envelope patch for %s has %d hunks", e.Folder, e.Count)
	case EventGetLocalEnvelopes:
		return fmt.Sprintf("listed %d local envelopes in %s", e.Count, e.Folder)
	case EventGetLocalCachedEnvelopes:
		return fmt.Sprintf("listed %d local cached envelopes in %s", e.Count, e.Folder)
	case EventGetRemoteEnvelopes:
		return fmt.Sprintf("listed %d remote envelopes in %s", e.Count, e.Folder)
	case EventGetRemoteCachedEnvelopes:
		return fmt.Sprintf("listed %d remote cached envelopes in %s", e.Count, e.Folder)
	case EventApplyEnvelopePatches:
		return fmt.Sprintf("applying %d envelope hunks", e.Count)
	case EventApplyEnvelopeHunk:
		return fmt.Sprintf("applied %s (err=%v)", e.Hunk, e.HunkErr)
	case EventApplyEnvelopeCachePatch:
		return fmt.Sprintf("applied cache hunk %s (err=%v)", e.Hunk, e.HunkErr)
	case EventExpungeFolders:
		return fmt.Sprintf("expunging %d folders", len(e.Folders))
	case EventFolderExpunged:
		return fmt.Sprintf("expunged %s (err=%v)", e.Folder, e.ExpungeErr)
	default:
		return "unknown event"
	}
}

// Handler receives progress events. A handler's error is logged and
// swallowed — the sync must not fail because a UI callback did, and the
// handler must not be relied on for back-pressure.
type Handler func(ctx context.Context, e Event) error

// Bus emits events to an installed Handler (component C6). A nil Bus (zero
// value) is a valid no-op bus.
type Bus struct {
	handler Handler
}

// NewBus installs handler as the bus's sink. A nil handler makes Emit a
// no-op.
func NewBus(handler Handler) *Bus { return &Bus{handler: handler} }

// Emit sends e to the installed handler, if any, logging and discarding any
// error it returns.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if b == nil || b.handler == nil {
		return
	}
	if err := b.handler(ctx, e); err != nil {
		log.Printf("progress handler error (ignored): %v", err)
	}
}
