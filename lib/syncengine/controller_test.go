package syncengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/danmarg/msync/lib/memremote"
)

// rawMessage builds a minimal RFC 5322 message with the given Message-Id,
// suitable for memremote.AddRawMessage.
func rawMessage(msgID, subject string) []byte {
	return []byte(fmt.Sprintf(
		"Message-Id: %s\r\nFrom: a@example.com\r\nSubject: %s\r\nDate: %s\r\n\r\nbody\r\n",
		msgID, subject, time.Unix(1700000000, 0).UTC().Format(time.RFC1123Z)))
}

func newTestController() (*Controller, *memremote.Backend, *memremote.Backend) {
	left := memremote.New()
	right := memremote.New()
	return &Controller{Left: left, Right: right, Bus: NewBus(nil)}, left, right
}

func testConfig(t *testing.T, strategy Strategy, dryRun bool) Config {
	t.Helper()
	cfg, err := NewConfigBuilder("acct").
		SyncEnabled(true).
		SyncDir(t.TempDir()).
		Strategy(strategy).
		DryRun(dryRun).
		Build()
	if err != nil {
		t.Fatalf("Build config: %v", err)
	}
	return cfg
}

// TestControllerFreshPull is scenario S1: the remote (Right) has a folder
// and message the local (Left) side has never seen; a run must create the
// folder locally and copy the message across.
func TestControllerFreshPull(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if _, err := right.AddRawMessage(ctx, "INBOX", rawMessage("<a@x>", "hi"), NewFlagSet(FlagSeen)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}

	cfg := testConfig(t, AllStrategy(), false)
	report, err := ctrl.Sync(ctx, cfg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	lf, err := left.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if !lf.Has("INBOX") {
		t.Fatalf("left folders = %v, want INBOX created", lf)
	}
	envs, err := left.ListEnvelopes(ctx, "INBOX")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 || envs[0].MessageID != "<a@x>" {
		t.Fatalf("left envelopes = %+v, want one copy of <a@x>", envs)
	}
	if !envs[0].Flags.Has(FlagSeen) {
		t.Fatalf("copied envelope flags = %v, want Seen preserved", envs[0].Flags.Sorted())
	}

	for _, res := range append(report.Folders.Hunks, report.Envelopes.Hunks...) {
		if res.Err != nil {
			t.Errorf("unexpected hunk failure: %s: %v", res.Hunk, res.Err)
		}
	}
}

// TestControllerFreshPush is scenario S2: the opposite direction, a
// locally-only Drafts folder and message must be pushed to the remote.
func TestControllerFreshPush(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := left.AddFolder(ctx, "Drafts"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if _, err := left.AddRawMessage(ctx, "Drafts", rawMessage("<b@x>", "draft"), NewFlagSet(FlagDraft)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}

	cfg := testConfig(t, AllStrategy(), false)
	if _, err := ctrl.Sync(ctx, cfg); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rf, err := right.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if !rf.Has("Drafts") {
		t.Fatalf("right folders = %v, want Drafts created", rf)
	}
	envs, err := right.ListEnvelopes(ctx, "Drafts")
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 || envs[0].MessageID != "<b@x>" {
		t.Fatalf("right envelopes = %+v, want one copy of <b@x>", envs)
	}
}

// TestControllerIdempotent is testable property 2: a second run immediately
// after a successful one produces no hunks.
func TestControllerIdempotent(t *testing.T) {
	ctx := context.Background()
	ctrl, _, right := newTestController()

	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if _, err := right.AddRawMessage(ctx, "INBOX", rawMessage("<a@x>", "hi"), NewFlagSet(FlagSeen)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}

	cfg := testConfig(t, AllStrategy(), false)
	if _, err := ctrl.Sync(ctx, cfg); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// Re-running against a fresh cache store at the same SyncDir (same
	// cache.db path) must see a converged state and emit no hunks.
	report, err := ctrl.Sync(ctx, cfg)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(report.Folders.Hunks) != 0 {
		t.Fatalf("second run folder hunks = %v, want none", report.Folders.Hunks)
	}
	if len(report.Envelopes.Hunks) != 0 {
		t.Fatalf("second run envelope hunks = %v, want none", report.Envelopes.Hunks)
	}
}

// TestControllerDryRunAppliesNothing is scenario S6: dry_run reports the
// same hunks it would have applied, but mutates neither backend nor cache.
func TestControllerDryRunAppliesNothing(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if _, err := right.AddRawMessage(ctx, "INBOX", rawMessage("<a@x>", "hi"), NewFlagSet(FlagSeen)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}

	cfg := testConfig(t, AllStrategy(), true)
	report, err := ctrl.Sync(ctx, cfg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Folders.Hunks) == 0 {
		t.Fatalf("dry run reported no folder hunks, want the would-be Create(Left, INBOX)")
	}

	lf, err := left.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if lf.Has("INBOX") {
		t.Fatalf("dry run must not create folders, left has %v", lf)
	}
}

// TestControllerFlagDivergence is scenario S4: both sides already have the
// same message with different flags; a run must converge both to the union
// without copying or deleting anything.
func TestControllerFlagDivergence(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	for _, b := range []Backend{left, right} {
		if err := b.AddFolder(ctx, "INBOX"); err != nil {
			t.Fatalf("AddFolder: %v", err)
		}
	}
	if _, err := left.AddRawMessage(ctx, "INBOX", rawMessage("<d@x>", "s"), NewFlagSet(FlagSeen)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}
	if _, err := right.AddRawMessage(ctx, "INBOX", rawMessage("<d@x>", "s"), NewFlagSet(FlagFlagged)); err != nil {
		t.Fatalf("AddRawMessage: %v", err)
	}

	cfg := testConfig(t, AllStrategy(), false)
	if _, err := ctrl.Sync(ctx, cfg); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	leftEnvs, _ := left.ListEnvelopes(ctx, "INBOX")
	rightEnvs, _ := right.ListEnvelopes(ctx, "INBOX")
	if len(leftEnvs) != 1 || len(rightEnvs) != 1 {
		t.Fatalf("expected no copies: left=%d right=%d envelopes", len(leftEnvs), len(rightEnvs))
	}
	if !leftEnvs[0].Flags.Has(FlagSeen) || !leftEnvs[0].Flags.Has(FlagFlagged) {
		t.Errorf("left flags = %v, want union Seen+Flagged", leftEnvs[0].Flags.Sorted())
	}
	if !rightEnvs[0].Flags.Has(FlagSeen) || !rightEnvs[0].Flags.Has(FlagFlagged) {
		t.Errorf("right flags = %v, want union Seen+Flagged", rightEnvs[0].Flags.Sorted())
	}
}

// TestControllerStrategyIncludeRestrictsUniverse is testable property 5:
// Include(S) must never touch a folder outside S.
func TestControllerStrategyIncludeRestrictsUniverse(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if err := right.AddFolder(ctx, "Spam"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	cfg := testConfig(t, IncludeStrategy("INBOX"), false)
	if _, err := ctrl.Sync(ctx, cfg); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	lf, err := left.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if !lf.Has("INBOX") {
		t.Fatalf("left folders = %v, want INBOX created", lf)
	}
	if lf.Has("Spam") {
		t.Fatalf("left folders = %v, Spam must not have been synced outside the Include strategy", lf)
	}
}

// TestControllerFolderAliasCanonicalizesListings covers §3 and §4.7 step 4:
// an alias must collapse two names that denote the same folder ("inbox" on
// one side, "INBOX" on the other) into a single element of the folder
// universe before the patch algebra runs, so the run sees one already-synced
// folder rather than creating each side's name on the other.
func TestControllerFolderAliasCanonicalizesListings(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := left.AddFolder(ctx, "inbox"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	cfg, err := NewConfigBuilder("acct").
		SyncEnabled(true).
		SyncDir(t.TempDir()).
		Strategy(AllStrategy()).
		FolderAlias("inbox", "INBOX").
		Build()
	if err != nil {
		t.Fatalf("Build config: %v", err)
	}

	report, err := ctrl.Sync(ctx, cfg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	for _, h := range report.Folders.Hunks {
		t.Errorf("unexpected folder hunk %s, alias should have unified inbox/INBOX into one already-present folder", h.Hunk)
	}
	if !report.Folders.FoldersNowPresent.Has("INBOX") {
		t.Fatalf("FoldersNowPresent = %v, want canonical INBOX", report.Folders.FoldersNowPresent)
	}
	if report.Folders.FoldersNowPresent.Has("inbox") {
		t.Fatalf("FoldersNowPresent = %v, alias spelling should not survive canonicalization", report.Folders.FoldersNowPresent)
	}
}

// TestControllerFolderAliasResolvesStrategy covers the strategy half of §4.7
// step 4: an Include strategy named with an alias must restrict the universe
// to the alias's canonical folder, not to a literal name nobody uses.
func TestControllerFolderAliasResolvesStrategy(t *testing.T) {
	ctx := context.Background()
	ctrl, left, right := newTestController()

	if err := right.AddFolder(ctx, "INBOX"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if err := right.AddFolder(ctx, "Spam"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	cfg, err := NewConfigBuilder("acct").
		SyncEnabled(true).
		SyncDir(t.TempDir()).
		Strategy(IncludeStrategy("inbox")).
		FolderAlias("inbox", "INBOX").
		Build()
	if err != nil {
		t.Fatalf("Build config: %v", err)
	}

	if _, err := ctrl.Sync(ctx, cfg); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	lf, err := left.ListFolders(ctx)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if !lf.Has("INBOX") {
		t.Fatalf("left folders = %v, want canonical INBOX created via the aliased Include strategy", lf)
	}
	if lf.Has("Spam") {
		t.Fatalf("left folders = %v, Spam must not have been synced outside the aliased Include strategy", lf)
	}
}

// TestControllerRefusesWhenSyncDisabled covers §4.7 step 1.
func TestControllerRefusesWhenSyncDisabled(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _ := newTestController()
	cfg, err := NewConfigBuilder("acct").SyncDir(t.TempDir()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := ctrl.Sync(ctx, cfg); err == nil {
		t.Fatalf("Sync with SyncEnabled=false should have failed")
	}
}
