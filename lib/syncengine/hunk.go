package syncengine

import "fmt"

// HunkKind distinguishes the shape of a Hunk. The folder-level and
// envelope-level algebras emit different concrete hunk kinds, listed
// together here since both flow through the same Worker Pool and report
// machinery.
type HunkKind int

const (
	// Folder-level kinds.
	HunkCreateFolder HunkKind = iota
	HunkDeleteFolder
	HunkCacheInsertFolder
	HunkCacheDeleteFolder

	// Envelope-level kinds.
	HunkCopyEnvelope
	HunkUpdateEnvelopeFlags
	HunkDeleteEnvelope
	HunkCacheInsertEnvelope
	HunkCacheUpdateEnvelope
	HunkCacheDeleteEnvelope
)

// Hunk is one atomic unit of reconciliation work, as emitted by the Patch
// Algebra (build_patch) for either the folder level or the envelope level
// within one folder.
type Hunk struct {
	Kind HunkKind

	// Folder-level fields.
	Folder FolderName
	Side   Side // the side this hunk acts on (Create/Delete/CacheInsert/CacheDelete)

	// Envelope-level fields. SourceSide/TargetSide are set for Copy; Side is
	// set for Update/Delete/CacheX.
	SourceSide Side
	TargetSide Side
	MessageID  MessageID
	NewFlags   FlagSet
	Envelope   EnvelopeIdentity // payload for CacheInsert/CacheUpdate
}

func (h Hunk) String() string {
	switch h.Kind {
	case HunkCreateFolder:
		return fmt.Sprintf("Create(%s, %s)", h.Side, h.Folder)
	case HunkDeleteFolder:
		return fmt.Sprintf("Delete(%s, %s)", h.Side, h.Folder)
	case HunkCacheInsertFolder:
		return fmt.Sprintf("CacheInsert(%s, %s)", h.Side, h.Folder)
	case HunkCacheDeleteFolder:
		return fmt.Sprintf("CacheDelete(%s, %s)", h.Side, h.Folder)
	case HunkCopyEnvelope:
		return fmt.Sprintf("Copy(%s->%s, %s, %s)", h.SourceSide, h.TargetSide, h.Folder, h.MessageID)
	case HunkUpdateEnvelopeFlags:
		return fmt.Sprintf("Update(%s, %s, %s, %v)", h.Side, h.Folder, h.MessageID, h.NewFlags.Sorted())
	case HunkDeleteEnvelope:
		return fmt.Sprintf("Delete(%s, %s, %s)", h.Side, h.Folder, h.MessageID)
	case HunkCacheInsertEnvelope:
		return fmt.Sprintf("CacheInsert(%s, %s, %s)", h.Side, h.Folder, h.MessageID)
	case HunkCacheUpdateEnvelope:
		return fmt.Sprintf("CacheUpdate(%s, %s, %s)", h.Side, h.Folder, h.MessageID)
	case HunkCacheDeleteEnvelope:
		return fmt.Sprintf("CacheDelete(%s, %s, %s)", h.Side, h.Folder, h.MessageID)
	default:
		return "Hunk(?)"
	}
}

// key returns the element identity a hunk was derived from: the folder name
// for folder hunks, the Message-ID for envelope hunks. The patch builders
// do not call it; they order hunks by iterating pre-sorted keys.
func (h Hunk) key() string {
	switch h.Kind {
	case HunkCreateFolder, HunkDeleteFolder, HunkCacheInsertFolder, HunkCacheDeleteFolder:
		return string(h.Folder)
	default:
		return string(h.MessageID)
	}
}

// order returns the priority Copy(0) < Update(1) < Delete(2) < Cache*(3)
// that BuildEnvelopePatch's output follows for hunks sharing one Message-ID.
// BuildEnvelopePatch does not call it; it gets that order by appending its
// copy, flag-update, delete and cache partitions in that sequence.
func (h Hunk) order() int {
	switch h.Kind {
	case HunkCopyEnvelope:
		return 0
	case HunkUpdateEnvelopeFlags:
		return 1
	case HunkDeleteEnvelope:
		return 2
	default:
		return 3
	}
}

// HunkResult pairs a hunk with the outcome of applying it. A nil Err means
// success.
type HunkResult struct {
	Hunk Hunk
	Err  error
}
