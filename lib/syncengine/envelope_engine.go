package syncengine

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// EnvelopeEngine orchestrates per-folder envelope sync (component C4): same
// pipeline as FolderEngine, fanned out over folders, operating on envelope
// identities keyed by Message-ID.
type EnvelopeEngine struct {
	Left, Right Backend
	Cache       *CacheStore
	Bus         *Bus
	FolderConcurrency int // W_fold, default 8
	Concurrency       int // W_env, default 8
	DryRun            bool
}

func (e *EnvelopeEngine) folderConcurrency() int {
	if e.FolderConcurrency <= 0 {
		return 8
	}
	return e.FolderConcurrency
}

func (e *EnvelopeEngine) concurrency() int {
	if e.Concurrency <= 0 {
		return 8
	}
	return e.Concurrency
}

type folderPatch struct {
	folder FolderName
	hunks  []Hunk
}

// Sync runs sync_envelopes(folders) -> EnvelopeSyncReport (§4.4).
func (e *EnvelopeEngine) Sync(ctx context.Context, folders FolderSet) (EnvelopeSyncReport, error) {
	names := folders.Sorted()
	e.Bus.Emit(ctx, Event{Kind: EventBuildEnvelopePatch, Folders: folders})

	patches := make([]folderPatch, len(names))
	sem := semaphore.NewWeighted(int64(e.folderConcurrency()))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		if err := sem.Acquire(ctx, 1); err != nil {
			return EnvelopeSyncReport{}, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			hunks, err := e.buildFolderPatch(gctx, name)
			if err != nil {
				return err
			}
			patches[i] = folderPatch{folder: name, hunks: hunks}
			e.Bus.Emit(gctx, Event{Kind: EventEnvelopePatchBuilt, Folder: name, Count: len(hunks)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EnvelopeSyncReport{}, err
	}

	// Collect all hunks across folders into a flat set (§4.4 step 3).
	var dataHunks, cacheHunks []Hunk
	for _, p := range patches {
		for _, h := range p.hunks {
			switch h.Kind {
			case HunkCacheInsertEnvelope, HunkCacheUpdateEnvelope, HunkCacheDeleteEnvelope:
				cacheHunks = append(cacheHunks, h)
			default:
				dataHunks = append(dataHunks, h)
			}
		}
	}

	e.Bus.Emit(ctx, Event{Kind: EventApplyEnvelopePatches, Count: len(dataHunks)})
	dataResults := RunPool(ctx, e.concurrency(), dataHunks, e.applyDataHunk, func(h Hunk, err error) {
		e.Bus.Emit(ctx, Event{Kind: EventApplyEnvelopeHunk, Hunk: h, HunkErr: err})
	})

	succeeded := map[string]bool{}
	for _, r := range dataResults {
		if r.Err == nil {
			succeeded[string(r.Hunk.Folder)+"\x00"+string(r.Hunk.MessageID)] = true
		}
	}
	var gatedCacheHunks []Hunk
	for _, h := range cacheHunks {
		key := string(h.Folder) + "\x00" + string(h.MessageID)
		if hasMatchingDataHunkForMessage(dataHunks, h.Folder, h.MessageID) {
			if succeeded[key] {
				gatedCacheHunks = append(gatedCacheHunks, h)
			}
			continue
		}
		gatedCacheHunks = append(gatedCacheHunks, h)
	}

	var cacheResults []HunkResult
	if e.DryRun {
		for _, h := range gatedCacheHunks {
			cacheResults = append(cacheResults, HunkResult{Hunk: h})
		}
	} else {
		cacheResults = RunPool(ctx, e.concurrency(), gatedCacheHunks, e.applyCacheHunk, func(h Hunk, err error) {
			e.Bus.Emit(ctx, Event{Kind: EventApplyEnvelopeCachePatch, Hunk: h, HunkErr: err})
		})
	}

	expunged := map[FolderName][2]error{}
	if !e.DryRun {
		e.Bus.Emit(ctx, Event{Kind: EventExpungeFolders, Folders: folders})
		for _, name := range names {
			name := name
			var leftErr, rightErr error
			var eg errgroup.Group
			eg.Go(func() error { leftErr = e.Left.ExpungeFolder(ctx, name); return nil })
			eg.Go(func() error { rightErr = e.Right.ExpungeFolder(ctx, name); return nil })
			_ = eg.Wait()
			expunged[name] = [2]error{leftErr, rightErr}
			var combined error
			if leftErr != nil {
				combined = leftErr
			} else if rightErr != nil {
				combined = rightErr
			}
			e.Bus.Emit(ctx, Event{Kind: EventFolderExpunged, Folder: name, ExpungeErr: combined})
		}
	}

	return EnvelopeSyncReport{
		Hunks:      dataResults,
		CacheHunks: cacheResults,
		Expunged:   expunged,
	}, nil
}

func hasMatchingDataHunkForMessage(hunks []Hunk, folder FolderName, id MessageID) bool {
	for _, h := range hunks {
		if h.Folder == folder && h.MessageID == id {
			return true
		}
	}
	return false
}

func (e *EnvelopeEngine) buildFolderPatch(ctx context.Context, folder FolderName) ([]Hunk, error) {
	var lcList, llList, rcList, rlList []EnvelopeIdentity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lcList, err = e.Cache.ListEnvelopes(gctx, folder, Left)
		if err != nil {
			return fmt.Errorf("%w: left cache %s: %v", ErrCache, folder, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetLocalCachedEnvelopes, Folder: folder, Count: len(lcList)})
		return nil
	})
	g.Go(func() error {
		var err error
		rcList, err = e.Cache.ListEnvelopes(gctx, folder, Right)
		if err != nil {
			return fmt.Errorf("%w: right cache %s: %v", ErrCache, folder, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetRemoteCachedEnvelopes, Folder: folder, Count: len(rcList)})
		return nil
	})
	g.Go(func() error {
		var err error
		llList, err = e.Left.ListEnvelopes(gctx, folder)
		if err != nil {
			return fmt.Errorf("%w: left backend %s: %v", ErrBackend, folder, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetLocalEnvelopes, Folder: folder, Count: len(llList)})
		return nil
	})
	g.Go(func() error {
		var err error
		rlList, err = e.Right.ListEnvelopes(gctx, folder)
		if err != nil {
			return fmt.Errorf("%w: right backend %s: %v", ErrBackend, folder, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetRemoteEnvelopes, Folder: folder, Count: len(rlList)})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Partition out envelopes lacking a Message-ID: cached but never
	// cross-side-matched, since there's no stable identity to match on.
	lc, lcOnly := partitionByMessageID(lcList)
	ll, llOnly := partitionByMessageID(llList)
	rc, rcOnly := partitionByMessageID(rcList)
	rl, rlOnly := partitionByMessageID(rlList)

	hunks := BuildEnvelopePatch(folder, lc, ll, rc, rl)
	hunks = append(hunks, cacheOnlyHunks(folder, Left, llOnly, lcOnly)...)
	hunks = append(hunks, cacheOnlyHunks(folder, Right, rlOnly, rcOnly)...)
	return hunks, nil
}

func partitionByMessageID(envs []EnvelopeIdentity) (EnvelopeSnapshot, []EnvelopeIdentity) {
	snap := EnvelopeSnapshot{}
	var rest []EnvelopeIdentity
	for _, e := range envs {
		if e.HasMessageID() {
			snap[e.MessageID] = e
		} else {
			rest = append(rest, e)
		}
	}
	return snap, rest
}

// cacheOnlyHunks keeps the cache in sync for side-local envelopes that have
// no Message-ID and therefore never participate in the cross-side algebra:
// anything newly observed live gets cached, anything cached but no longer
// live gets uncached.
func cacheOnlyHunks(folder FolderName, side Side, live, cached []EnvelopeIdentity) []Hunk {
	liveByID := map[string]EnvelopeIdentity{}
	for _, e := range live {
		liveByID[e.InternalID] = e
	}
	cachedIDs := map[string]bool{}
	for _, e := range cached {
		cachedIDs[e.InternalID] = true
	}
	var hunks []Hunk
	for id, e := range liveByID {
		if !cachedIDs[id] {
			hunks = append(hunks, Hunk{Kind: HunkCacheInsertEnvelope, Side: side, Folder: folder, Envelope: e})
		}
	}
	for _, e := range cached {
		if _, ok := liveByID[e.InternalID]; !ok {
			hunks = append(hunks, Hunk{Kind: HunkCacheDeleteEnvelope, Side: side, Folder: folder, Envelope: e})
		}
	}
	return hunks
}

func (e *EnvelopeEngine) applyDataHunk(ctx context.Context, h Hunk) error {
	if e.DryRun {
		return nil
	}
	switch h.Kind {
	case HunkCopyEnvelope:
		return e.copyEnvelope(ctx, h)
	case HunkUpdateEnvelopeFlags:
		return e.updateFlags(ctx, h)
	case HunkDeleteEnvelope:
		return e.deleteEnvelope(ctx, h)
	default:
		return fmt.Errorf("envelope engine: unexpected data hunk kind %v", h.Kind)
	}
}

// copyEnvelope implements §4.4 step 5: peek raw bytes from source (must not
// mark Seen), append to target with the source envelope's flags minus Recent.
func (e *EnvelopeEngine) copyEnvelope(ctx context.Context, h Hunk) error {
	source := e.backendFor(h.SourceSide)
	target := e.backendFor(h.TargetSide)

	envs, err := source.ListEnvelopes(ctx, h.Folder)
	if err != nil {
		return err
	}
	var src *EnvelopeIdentity
	for i := range envs {
		if envs[i].MessageID == h.MessageID {
			src = &envs[i]
			break
		}
	}
	if src == nil {
		return fmt.Errorf("copy %s: message vanished from source before copy", h.MessageID)
	}

	r, err := source.PeekMessage(ctx, h.Folder, src.InternalID)
	if err != nil {
		return err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	flags := src.Flags.Clone()
	delete(flags, FlagRecent)

	_, err = target.AddRawMessage(ctx, h.Folder, raw, flags)
	return err
}

func (e *EnvelopeEngine) updateFlags(ctx context.Context, h Hunk) error {
	b := e.backendFor(h.Side)
	envs, err := b.ListEnvelopes(ctx, h.Folder)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if env.MessageID == h.MessageID {
			return b.SetFlags(ctx, h.Folder, env.InternalID, h.NewFlags)
		}
	}
	return fmt.Errorf("update flags %s: message not found on %s", h.MessageID, h.Side)
}

// deleteEnvelope marks the envelope Deleted (§3 Hunk definition: "mark for
// expunge"); the actual removal happens in the separate expunge pass.
func (e *EnvelopeEngine) deleteEnvelope(ctx context.Context, h Hunk) error {
	b := e.backendFor(h.Side)
	envs, err := b.ListEnvelopes(ctx, h.Folder)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if env.MessageID == h.MessageID {
			flags := env.Flags.Clone()
			flags[FlagDeleted] = struct{}{}
			return b.SetFlags(ctx, h.Folder, env.InternalID, flags)
		}
	}
	return fmt.Errorf("delete %s: message not found on %s", h.MessageID, h.Side)
}

func (e *EnvelopeEngine) applyCacheHunk(ctx context.Context, h Hunk) error {
	switch h.Kind {
	case HunkCacheInsertEnvelope, HunkCacheUpdateEnvelope:
		return e.Cache.InsertEnvelope(ctx, h.Folder, h.Side, h.Envelope)
	case HunkCacheDeleteEnvelope:
		if h.MessageID != "" {
			return e.Cache.DeleteEnvelopeByMessageID(ctx, h.Folder, h.Side, h.MessageID)
		}
		return e.Cache.DeleteEnvelope(ctx, h.Folder, h.Side, h.Envelope.InternalID)
	default:
		return fmt.Errorf("envelope engine: unexpected cache hunk kind %v", h.Kind)
	}
}

func (e *EnvelopeEngine) backendFor(side Side) Backend {
	if side == Left {
		return e.Left
	}
	return e.Right
}
