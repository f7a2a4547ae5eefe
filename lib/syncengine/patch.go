package syncengine

import "sort"

// presence is the 4-bit (LC, LL, RC, RL) vector from spec §4.2, in the same
// bit order as the table: LC=8, LL=4, RC=2, RL=1.
type presence int

const (
	pLC presence = 1 << 3
	pLL presence = 1 << 2
	pRC presence = 1 << 1
	pRL presence = 1 << 0
)

// existenceOp is what the table says to do for one presence vector, in
// terms of abstract operations on an abstract element; buildExistenceHunks
// below turns these into concrete folder or envelope hunks.
type existenceOp struct {
	createLeft, createRight     bool
	deleteLeft, deleteRight     bool
	cacheInsertLeft, cacheInsertRight bool
	cacheDeleteLeft, cacheDeleteRight bool
}

// existenceTable is the sixteen-row contract from spec §4.2, keyed by
// presence vector. Row 0000 is never looked up (no element is considered
// without being present somewhere).
var existenceTable = map[presence]existenceOp{
	pLC | pLL | pRC | pRL: {}, // 1111 stable
	pLL | pRL:             {cacheInsertLeft: true, cacheInsertRight: true},                                    // 0101 new on both
	pLL | pRC:             {createRight: true, cacheInsertLeft: true, cacheInsertRight: true},                  // 0110 new on left, cache stale right
	pLL | pRC | pRL:       {cacheInsertLeft: true},                                                             // 0111 new on left, right already had it
	pRL:                   {createLeft: true, cacheInsertLeft: true, cacheInsertRight: true},                   // 0001 new on right
	pRC:                   {cacheDeleteRight: true},                                                            // 0010 deleted on right, cache stale
	pRC | pRL:             {createLeft: true, cacheInsertLeft: true, cacheInsertRight: true},                   // 0011 new on right, cache stale left
	pLL:                   {createRight: true, cacheInsertLeft: true, cacheInsertRight: true},                  // 0100 new on left
	pLC:                   {cacheDeleteLeft: true, cacheDeleteRight: true},                                     // 1000 vanished from both
	pLC | pRL:             {deleteRight: true, cacheDeleteLeft: true, cacheDeleteRight: true},                  // 1001 deleted on left
	pLC | pRC:             {cacheDeleteLeft: true, cacheDeleteRight: true},                                     // 1010 deleted on both
	pLC | pRC | pRL:       {deleteRight: true, cacheDeleteLeft: true, cacheDeleteRight: true},                  // 1011 deleted on left
	pLC | pLL:             {deleteLeft: true, cacheDeleteLeft: true, cacheDeleteRight: true},                   // 1100 deleted on right
	pLC | pLL | pRL:       {cacheInsertRight: true},                                                            // 1101 deleted-on-right-cache-only, reappeared
	pLC | pLL | pRC:       {deleteLeft: true, cacheDeleteLeft: true, cacheDeleteRight: true},                   // 1110 deleted on right
}

func presenceOf(inLC, inLL, inRC, inRL bool) presence {
	var p presence
	if inLC {
		p |= pLC
	}
	if inLL {
		p |= pLL
	}
	if inRC {
		p |= pRC
	}
	if inRL {
		p |= pRL
	}
	return p
}

// BuildFolderPatch implements build_patch for the folder level: four
// snapshots of FolderName in, an ordered, deterministic list of folder hunks
// out. Creates are ordered before deletes; cache operations after their data
// operation in the same partition; ties within a partition are broken by
// lexicographic folder name.
func BuildFolderPatch(lc, ll, rc, rl FolderSet) []Hunk {
	all := map[FolderName]struct{}{}
	for _, s := range []FolderSet{lc, ll, rc, rl} {
		for n := range s {
			all[n] = struct{}{}
		}
	}
	names := make([]FolderName, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var creates, deletes, cacheOps []Hunk
	for _, n := range names {
		p := presenceOf(lc.Has(n), ll.Has(n), rc.Has(n), rl.Has(n))
		op, ok := existenceTable[p]
		if !ok {
			continue // 0000 or stable (1111, handled by zero-value op already in map)
		}
		if op.createLeft {
			creates = append(creates, Hunk{Kind: HunkCreateFolder, Side: Left, Folder: n})
		}
		if op.createRight {
			creates = append(creates, Hunk{Kind: HunkCreateFolder, Side: Right, Folder: n})
		}
		if op.deleteLeft {
			deletes = append(deletes, Hunk{Kind: HunkDeleteFolder, Side: Left, Folder: n})
		}
		if op.deleteRight {
			deletes = append(deletes, Hunk{Kind: HunkDeleteFolder, Side: Right, Folder: n})
		}
		if op.cacheInsertLeft {
			cacheOps = append(cacheOps, Hunk{Kind: HunkCacheInsertFolder, Side: Left, Folder: n})
		}
		if op.cacheInsertRight {
			cacheOps = append(cacheOps, Hunk{Kind: HunkCacheInsertFolder, Side: Right, Folder: n})
		}
		if op.cacheDeleteLeft {
			cacheOps = append(cacheOps, Hunk{Kind: HunkCacheDeleteFolder, Side: Left, Folder: n})
		}
		if op.cacheDeleteRight {
			cacheOps = append(cacheOps, Hunk{Kind: HunkCacheDeleteFolder, Side: Right, Folder: n})
		}
	}
	out := make([]Hunk, 0, len(creates)+len(deletes)+len(cacheOps))
	out = append(out, creates...)
	out = append(out, deletes...)
	out = append(out, cacheOps...)
	return out
}

// EnvelopeSnapshot maps a MessageID to the envelope identity observed for
// it, for one (side, cache/live) combination within one folder.
type EnvelopeSnapshot map[MessageID]EnvelopeIdentity

func (s EnvelopeSnapshot) has(id MessageID) bool { _, ok := s[id]; return ok }

// BuildEnvelopePatch implements build_patch for the envelope level within
// one folder, keyed by Message-ID. Envelopes lacking a Message-ID must be
// partitioned out by the caller before calling this: they are cached
// side-locally but never cross-side-matched, since there's no stable
// identity to match on.
//
// Creates are ordered before deletes; cache ops after their data op; within
// one Message-ID, hunks are further ordered Copy < Update < Delete < Cache*.
func BuildEnvelopePatch(folder FolderName, lc, ll, rc, rl EnvelopeSnapshot) []Hunk {
	all := map[MessageID]struct{}{}
	for _, s := range []EnvelopeSnapshot{lc, ll, rc, rl} {
		for id := range s {
			all[id] = struct{}{}
		}
	}
	ids := make([]MessageID, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var creates, deletes, cacheOps, flagUpdates []Hunk
	for _, id := range ids {
		p := presenceOf(lc.has(id), ll.has(id), rc.has(id), rl.has(id))
		op, ok := existenceTable[p]
		if ok {
			if op.createLeft {
				creates = append(creates, Hunk{Kind: HunkCopyEnvelope, Folder: folder, SourceSide: Right, TargetSide: Left, MessageID: id})
			}
			if op.createRight {
				creates = append(creates, Hunk{Kind: HunkCopyEnvelope, Folder: folder, SourceSide: Left, TargetSide: Right, MessageID: id})
			}
			if op.deleteLeft {
				deletes = append(deletes, Hunk{Kind: HunkDeleteEnvelope, Side: Left, Folder: folder, MessageID: id})
			}
			if op.deleteRight {
				deletes = append(deletes, Hunk{Kind: HunkDeleteEnvelope, Side: Right, Folder: folder, MessageID: id})
			}
			if op.cacheInsertLeft {
				cacheOps = append(cacheOps, Hunk{Kind: HunkCacheInsertEnvelope, Side: Left, Folder: folder, MessageID: id, Envelope: pick(ll, rl, id)})
			}
			if op.cacheInsertRight {
				cacheOps = append(cacheOps, Hunk{Kind: HunkCacheInsertEnvelope, Side: Right, Folder: folder, MessageID: id, Envelope: pick(rl, ll, id)})
			}
			if op.cacheDeleteLeft {
				cacheOps = append(cacheOps, Hunk{Kind: HunkCacheDeleteEnvelope, Side: Left, Folder: folder, MessageID: id})
			}
			if op.cacheDeleteRight {
				cacheOps = append(cacheOps, Hunk{Kind: HunkCacheDeleteEnvelope, Side: Right, Folder: folder, MessageID: id})
			}
		}

		// Flag merge layer (§4.2): applies whenever both live sides have the
		// message, independent of the existence table's own hunks.
		if ll.has(id) && rl.has(id) {
			left, right := ll[id], rl[id]
			merged := mergeFlags(left, right)
			if !sameFlags(left.Flags, merged) {
				flagUpdates = append(flagUpdates, Hunk{Kind: HunkUpdateEnvelopeFlags, Side: Left, Folder: folder, MessageID: id, NewFlags: merged})
			}
			if !sameFlags(right.Flags, merged) {
				flagUpdates = append(flagUpdates, Hunk{Kind: HunkUpdateEnvelopeFlags, Side: Right, Folder: folder, MessageID: id, NewFlags: merged})
			}
		}
	}

	out := make([]Hunk, 0, len(creates)+len(flagUpdates)+len(deletes)+len(cacheOps))
	out = append(out, creates...)
	out = append(out, flagUpdates...)
	out = append(out, deletes...)
	out = append(out, cacheOps...)
	return out
}

// pick returns the live envelope for id from primary, falling back to
// fallback; used to populate CacheInsert hunks with the observed envelope.
func pick(primary, fallback EnvelopeSnapshot, id MessageID) EnvelopeIdentity {
	if e, ok := primary[id]; ok {
		return e
	}
	return fallback[id]
}

func sameFlags(a, b FlagSet) bool {
	if len(a) != len(b) {
		return false
	}
	for f := range a {
		if !b.Has(f) {
			return false
		}
	}
	return true
}

// mergeFlags implements the envelope flag merge law from §4.2: flags
// converge by union, except Deleted, which follows "newer wins" by Date.
// The rule is commutative and associative so re-runs are idempotent
// (testable property 6).
func mergeFlags(left, right EnvelopeIdentity) FlagSet {
	nonDeleted := func(fs FlagSet) FlagSet {
		out := FlagSet{}
		for f := range fs {
			if f != FlagDeleted {
				out[f] = struct{}{}
			}
		}
		return out
	}
	merged := nonDeleted(left.Flags).Union(nonDeleted(right.Flags))

	leftDeleted := left.Flags.Has(FlagDeleted)
	rightDeleted := right.Flags.Has(FlagDeleted)
	switch {
	case leftDeleted && rightDeleted:
		merged[FlagDeleted] = struct{}{}
	case leftDeleted && !rightDeleted:
		if left.Date >= right.Date {
			merged[FlagDeleted] = struct{}{}
		}
	case rightDeleted && !leftDeleted:
		if right.Date >= left.Date {
			merged[FlagDeleted] = struct{}{}
		}
	}
	return merged
}
