package syncengine

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *CacheStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenCacheStore(context.Background(), path, "acct")
	if err != nil {
		t.Fatalf("OpenCacheStore: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheStoreFolderRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	if err := c.InsertFolder(ctx, Left, "INBOX"); err != nil {
		t.Fatalf("InsertFolder: %v", err)
	}
	if err := c.InsertFolder(ctx, Left, "Archive"); err != nil {
		t.Fatalf("InsertFolder: %v", err)
	}
	got, err := c.ListFolders(ctx, Left)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if !got.Has("INBOX") || !got.Has("Archive") || len(got) != 2 {
		t.Fatalf("ListFolders = %v, want {INBOX, Archive}", got)
	}

	if err := c.DeleteFolder(ctx, Left, "Archive"); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	got, err = c.ListFolders(ctx, Left)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if got.Has("Archive") {
		t.Fatalf("Archive should have been deleted, got %v", got)
	}
}

func TestCacheStoreFoldersPerSideIsolated(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	if err := c.InsertFolder(ctx, Left, "INBOX"); err != nil {
		t.Fatalf("InsertFolder: %v", err)
	}
	right, err := c.ListFolders(ctx, Right)
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(right) != 0 {
		t.Fatalf("right side folders should be empty, got %v", right)
	}
}

func TestCacheStoreEnvelopeRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e := EnvelopeIdentity{
		InternalID: "1",
		MessageID:  "<a@b>",
		Flags:      NewFlagSet(FlagSeen, FlagFlagged),
		Date:       1234,
		From:       "a@example.com",
		Subject:    "hello",
	}
	if err := c.InsertEnvelope(ctx, "INBOX", Left, e); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	envs, err := c.ListEnvelopes(ctx, "INBOX", Left)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1", len(envs))
	}
	got := envs[0]
	if got.MessageID != e.MessageID || got.Date != e.Date || got.From != e.From || got.Subject != e.Subject {
		t.Fatalf("round-tripped envelope = %+v, want %+v", got, e)
	}
	if !got.Flags.Has(FlagSeen) || !got.Flags.Has(FlagFlagged) {
		t.Fatalf("round-tripped flags = %v, want Seen+Flagged", got.Flags.Sorted())
	}
}

func TestCacheStoreInsertEnvelopeUpsertsByInternalID(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e := EnvelopeIdentity{InternalID: "1", MessageID: "<a@b>", Flags: NewFlagSet(FlagSeen), Date: 1}
	if err := c.InsertEnvelope(ctx, "INBOX", Left, e); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	e.Flags = NewFlagSet(FlagSeen, FlagDeleted)
	if err := c.UpdateEnvelope(ctx, "INBOX", Left, e); err != nil {
		t.Fatalf("UpdateEnvelope: %v", err)
	}
	envs, err := c.ListEnvelopes(ctx, "INBOX", Left)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d rows, want 1 (upsert, not append)", len(envs))
	}
	if !envs[0].Flags.Has(FlagDeleted) {
		t.Fatalf("updated flags = %v, want Deleted present", envs[0].Flags.Sorted())
	}
}

func TestCacheStoreDeleteEnvelopeByMessageID(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e := EnvelopeIdentity{InternalID: "1", MessageID: "<a@b>", Flags: NewFlagSet(), Date: 1}
	if err := c.InsertEnvelope(ctx, "INBOX", Left, e); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	if err := c.DeleteEnvelopeByMessageID(ctx, "INBOX", Left, "<a@b>"); err != nil {
		t.Fatalf("DeleteEnvelopeByMessageID: %v", err)
	}
	envs, err := c.ListEnvelopes(ctx, "INBOX", Left)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("got %d envelopes after delete, want 0", len(envs))
	}
}

func TestCacheStoreDeleteEnvelopeByInternalID(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	e := EnvelopeIdentity{InternalID: "xyz", MessageID: "", Flags: NewFlagSet(), Date: 1}
	if err := c.InsertEnvelope(ctx, "INBOX", Left, e); err != nil {
		t.Fatalf("InsertEnvelope: %v", err)
	}
	// Deleting by the wrong key must not remove the row: message_id is empty
	// here, so DeleteEnvelopeByMessageID("") would otherwise match it.
	if err := c.DeleteEnvelopeByMessageID(ctx, "INBOX", Left, "<other@id>"); err != nil {
		t.Fatalf("DeleteEnvelopeByMessageID: %v", err)
	}
	envs, err := c.ListEnvelopes(ctx, "INBOX", Left)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes, want 1 (wrong-id delete must be a no-op)", len(envs))
	}
	if err := c.DeleteEnvelope(ctx, "INBOX", Left, "xyz"); err != nil {
		t.Fatalf("DeleteEnvelope: %v", err)
	}
	envs, err = c.ListEnvelopes(ctx, "INBOX", Left)
	if err != nil {
		t.Fatalf("ListEnvelopes: %v", err)
	}
	if len(envs) != 0 {
		t.Fatalf("got %d envelopes after DeleteEnvelope, want 0", len(envs))
	}
}
