package syncengine

import (
	"sort"
	"testing"
)

func TestPresenceOf(t *testing.T) {
	if p := presenceOf(true, false, true, false); p != pLC|pRC {
		t.Fatalf("presenceOf(true,false,true,false) = %v, want %v", p, pLC|pRC)
	}
	if p := presenceOf(false, false, false, false); p != 0 {
		t.Fatalf("presenceOf(false,false,false,false) = %v, want 0", p)
	}
}

// TestExistenceTableCoverage walks the fifteen presence rows other than 0000
// (which never occurs) and checks the
// table's shape against the qualitative description of each row: which
// sides gain an element, which sides lose one, and which sides' cache gets
// touched.
func TestExistenceTableCoverage(t *testing.T) {
	cases := []struct {
		name                                       string
		lc, ll, rc, rl                             bool
		wantCreateL, wantCreateR                    bool
		wantDeleteL, wantDeleteR                    bool
		wantCacheInsL, wantCacheInsR                bool
		wantCacheDelL, wantCacheDelR                bool
	}{
		{name: "stable", lc: true, ll: true, rc: true, rl: true},
		{name: "new on both", ll: true, rl: true, wantCacheInsL: true, wantCacheInsR: true},
		{name: "new on left, cache stale right", ll: true, rc: true, wantCreateR: true, wantCacheInsL: true, wantCacheInsR: true},
		{name: "new on left, right already cached", ll: true, rl: true, rc: true, wantCacheInsL: true},
		{name: "new on right", rl: true, wantCreateL: true, wantCacheInsL: true, wantCacheInsR: true},
		{name: "deleted on right, cache stale", rc: true, wantCacheDelR: true},
		{name: "new on right, cache stale left", rc: true, rl: true, wantCreateL: true, wantCacheInsL: true, wantCacheInsR: true},
		{name: "new on left", ll: true, wantCreateR: true, wantCacheInsL: true, wantCacheInsR: true},
		{name: "vanished from both", lc: true, wantCacheDelL: true, wantCacheDelR: true},
		{name: "deleted on left", lc: true, rl: true, wantDeleteR: true, wantCacheDelL: true, wantCacheDelR: true},
		{name: "deleted on both", lc: true, rc: true, wantCacheDelL: true, wantCacheDelR: true},
		{name: "deleted on left (cache lagging)", lc: true, rc: true, rl: true, wantDeleteR: true, wantCacheDelL: true, wantCacheDelR: true},
		{name: "deleted on right", lc: true, ll: true, wantDeleteL: true, wantCacheDelL: true, wantCacheDelR: true},
		{name: "reappeared after right-cache-only delete", lc: true, ll: true, rl: true, wantCacheInsR: true},
		{name: "deleted on right (cache lagging)", lc: true, ll: true, rc: true, wantDeleteL: true, wantCacheDelL: true, wantCacheDelR: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := presenceOf(c.lc, c.ll, c.rc, c.rl)
			op, ok := existenceTable[p]
			if !ok {
				if c.wantCreateL || c.wantCreateR || c.wantDeleteL || c.wantDeleteR ||
					c.wantCacheInsL || c.wantCacheInsR || c.wantCacheDelL || c.wantCacheDelR {
					t.Fatalf("row %04b missing from table, want a non-trivial op", p)
				}
				return
			}
			if op.createLeft != c.wantCreateL || op.createRight != c.wantCreateR {
				t.Errorf("row %04b create = (%v,%v), want (%v,%v)", p, op.createLeft, op.createRight, c.wantCreateL, c.wantCreateR)
			}
			if op.deleteLeft != c.wantDeleteL || op.deleteRight != c.wantDeleteR {
				t.Errorf("row %04b delete = (%v,%v), want (%v,%v)", p, op.deleteLeft, op.deleteRight, c.wantDeleteL, c.wantDeleteR)
			}
			if op.cacheInsertLeft != c.wantCacheInsL || op.cacheInsertRight != c.wantCacheInsR {
				t.Errorf("row %04b cacheInsert = (%v,%v), want (%v,%v)", p, op.cacheInsertLeft, op.cacheInsertRight, c.wantCacheInsL, c.wantCacheInsR)
			}
			if op.cacheDeleteLeft != c.wantCacheDelL || op.cacheDeleteRight != c.wantCacheDelR {
				t.Errorf("row %04b cacheDelete = (%v,%v), want (%v,%v)", p, op.cacheDeleteLeft, op.cacheDeleteRight, c.wantCacheDelL, c.wantCacheDelR)
			}
		})
	}
}

func TestBuildFolderPatchNewOnLeft(t *testing.T) {
	lc := NewFolderSet()
	ll := NewFolderSet("INBOX")
	rc := NewFolderSet()
	rl := NewFolderSet()

	hunks := BuildFolderPatch(lc, ll, rc, rl)
	if len(hunks) != 3 {
		t.Fatalf("got %d hunks, want 3: %v", len(hunks), hunks)
	}
	if hunks[0].Kind != HunkCreateFolder || hunks[0].Side != Right {
		t.Errorf("hunks[0] = %v, want CreateFolder(right)", hunks[0])
	}
}

func TestBuildFolderPatchDeterministicOrder(t *testing.T) {
	ll := NewFolderSet("Zeta", "Alpha", "Mu")
	rl := NewFolderSet()
	lc := NewFolderSet()
	rc := NewFolderSet()

	hunks := BuildFolderPatch(lc, ll, rc, rl)
	var creates []string
	for _, h := range hunks {
		if h.Kind == HunkCreateFolder {
			creates = append(creates, string(h.Folder))
		}
	}
	if !sort.StringsAreSorted(creates) {
		t.Fatalf("folder creates not lexicographically ordered: %v", creates)
	}
}

func TestBuildFolderPatchIdempotent(t *testing.T) {
	// Once both caches agree with both live listings, the patch must be empty.
	lc := NewFolderSet("INBOX", "Archive")
	ll := NewFolderSet("INBOX", "Archive")
	rc := NewFolderSet("INBOX", "Archive")
	rl := NewFolderSet("INBOX", "Archive")

	hunks := BuildFolderPatch(lc, ll, rc, rl)
	if len(hunks) != 0 {
		t.Fatalf("expected no hunks for a converged state, got %v", hunks)
	}
}

func TestBuildEnvelopePatchCopyNewOnRight(t *testing.T) {
	id := MessageID("<a@b>")
	rl := EnvelopeSnapshot{id: {InternalID: "1", MessageID: id}}
	hunks := BuildEnvelopePatch("INBOX", EnvelopeSnapshot{}, EnvelopeSnapshot{}, EnvelopeSnapshot{}, rl)

	var copies int
	for _, h := range hunks {
		if h.Kind == HunkCopyEnvelope {
			copies++
			if h.SourceSide != Right || h.TargetSide != Left {
				t.Errorf("copy hunk = %v, want right->left", h)
			}
		}
	}
	if copies != 1 {
		t.Fatalf("got %d copy hunks, want 1: %v", copies, hunks)
	}
}

func TestBuildEnvelopePatchFlagMergeUnion(t *testing.T) {
	id := MessageID("<a@b>")
	left := EnvelopeIdentity{InternalID: "1", MessageID: id, Flags: NewFlagSet(FlagSeen), Date: 100}
	right := EnvelopeIdentity{InternalID: "2", MessageID: id, Flags: NewFlagSet(FlagFlagged), Date: 100}
	snap := EnvelopeSnapshot{id: left}
	rsnap := EnvelopeSnapshot{id: right}

	hunks := BuildEnvelopePatch("INBOX", snap, snap, rsnap, rsnap)
	var updates int
	for _, h := range hunks {
		if h.Kind == HunkUpdateEnvelopeFlags {
			updates++
			if !h.NewFlags.Has(FlagSeen) || !h.NewFlags.Has(FlagFlagged) {
				t.Errorf("merged flags = %v, want union of Seen+Flagged", h.NewFlags.Sorted())
			}
		}
	}
	if updates != 2 {
		t.Fatalf("got %d flag updates, want 2 (one per side): %v", updates, hunks)
	}
}

func TestMergeFlagsDeletedNewerWins(t *testing.T) {
	left := EnvelopeIdentity{Flags: NewFlagSet(FlagDeleted), Date: 200}
	right := EnvelopeIdentity{Flags: NewFlagSet(FlagSeen), Date: 100}
	merged := mergeFlags(left, right)
	if !merged.Has(FlagDeleted) {
		t.Fatalf("merged = %v, want Deleted to win (newer)", merged.Sorted())
	}

	left2 := EnvelopeIdentity{Flags: NewFlagSet(FlagDeleted), Date: 100}
	right2 := EnvelopeIdentity{Flags: NewFlagSet(FlagSeen), Date: 200}
	merged2 := mergeFlags(left2, right2)
	if merged2.Has(FlagDeleted) {
		t.Fatalf("merged = %v, want Deleted to lose (older)", merged2.Sorted())
	}
}

func TestMergeFlagsCommutative(t *testing.T) {
	left := EnvelopeIdentity{Flags: NewFlagSet(FlagSeen, FlagDeleted), Date: 50}
	right := EnvelopeIdentity{Flags: NewFlagSet(FlagFlagged), Date: 60}
	a := mergeFlags(left, right)
	b := mergeFlags(right, left)
	if !sameFlags(a, b) {
		t.Fatalf("mergeFlags not commutative: %v vs %v", a.Sorted(), b.Sorted())
	}
}

func TestBuildEnvelopePatchEmptyMessageIDIsOrdinaryKey(t *testing.T) {
	// BuildEnvelopePatch itself is keyed purely by Message-ID; callers are
	// responsible for excluding id-less envelopes before calling it, so this
	// just documents that an empty MessageID key behaves like any other key
	// (no special-casing inside the algebra).
	id := MessageID("")
	ll := EnvelopeSnapshot{id: {InternalID: "1"}}
	hunks := BuildEnvelopePatch("INBOX", EnvelopeSnapshot{}, ll, EnvelopeSnapshot{}, EnvelopeSnapshot{})
	if len(hunks) == 0 {
		t.Fatalf("expected the algebra to treat empty MessageID as a normal key")
	}
}
