package syncengine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FolderEngine orchestrates folder-level sync (component C3): snapshot four
// sides, compute patch, apply, update cache.
type FolderEngine struct {
	Left, Right Backend
	Cache       *CacheStore
	Bus         *Bus
	Concurrency int // W_f, default 8
	DryRun      bool

	// FolderAliases canonicalizes every folder name before it enters the
	// patch algebra (§3, §4.7 step 4): applied to the strategy's folder set
	// and to all four cache/backend listings, so two names that alias to
	// the same canonical folder (spec's own "inbox" -> "INBOX") are never
	// treated as distinct elements.
	FolderAliases map[string]string
}

func (e *FolderEngine) concurrency() int {
	if e.Concurrency <= 0 {
		return 8
	}
	return e.Concurrency
}

func intersect(s, universe FolderSet) FolderSet {
	out := FolderSet{}
	for n := range s {
		if universe.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

func union(a, b FolderSet) FolderSet {
	out := FolderSet{}
	for n := range a {
		out[n] = struct{}{}
	}
	for n := range b {
		out[n] = struct{}{}
	}
	return out
}

func subtract(a, b FolderSet) FolderSet {
	out := FolderSet{}
	for n := range a {
		if !b.Has(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// resolveUniverse applies the sync strategy to the union of live folder
// listings, producing the folder universe a run is scoped to.
func resolveUniverse(strategy Strategy, ll, rl FolderSet) FolderSet {
	switch strategy.Kind {
	case StrategyInclude:
		out := FolderSet{}
		for n := range strategy.Folders {
			out[n] = struct{}{}
		}
		return out
	case StrategyExclude:
		return subtract(union(ll, rl), strategy.Folders)
	default:
		return union(ll, rl)
	}
}

// Sync reconciles folder presence on both sides against strategy, applying
// the resulting patch and returning a FolderSyncReport.
func (e *FolderEngine) Sync(ctx context.Context, strategy Strategy) (FolderSyncReport, error) {
	var lc, ll, rc, rl FolderSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lc, err = e.Cache.ListFolders(gctx, Left)
		if err != nil {
			return fmt.Errorf("%w: left cache: %v", ErrCache, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetLocalCachedFolders, Count: len(lc)})
		return nil
	})
	g.Go(func() error {
		var err error
		rc, err = e.Cache.ListFolders(gctx, Right)
		if err != nil {
			return fmt.Errorf("%w: right cache: %v", ErrCache, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetRemoteCachedFolders, Count: len(rc)})
		return nil
	})
	g.Go(func() error {
		var err error
		ll, err = e.Left.ListFolders(gctx)
		if err != nil {
			return fmt.Errorf("%w: left backend: %v", ErrBackend, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetLocalFolders, Count: len(ll)})
		return nil
	})
	g.Go(func() error {
		var err error
		rl, err = e.Right.ListFolders(gctx)
		if err != nil {
			return fmt.Errorf("%w: right backend: %v", ErrBackend, err)
		}
		e.Bus.Emit(gctx, Event{Kind: EventGetRemoteFolders, Count: len(rl)})
		return nil
	})
	if err := g.Wait(); err != nil {
		return FolderSyncReport{}, err
	}

	// Resolve folder aliases before anything enters the patch algebra (§3,
	// §4.7 step 4): both the strategy's folder set and all four
	// cache/backend listings, so e.g. "inbox" and "INBOX" collapse to one
	// element everywhere downstream.
	lc = canonicalizeFolderSet(e.FolderAliases, lc)
	ll = canonicalizeFolderSet(e.FolderAliases, ll)
	rc = canonicalizeFolderSet(e.FolderAliases, rc)
	rl = canonicalizeFolderSet(e.FolderAliases, rl)
	strategy = Strategy{Kind: strategy.Kind, Folders: canonicalizeFolderSet(e.FolderAliases, strategy.Folders)}

	universe := resolveUniverse(strategy, ll, rl)
	lc, ll, rc, rl = intersect(lc, universe), intersect(ll, universe), intersect(rc, universe), intersect(rl, universe)

	e.Bus.Emit(ctx, Event{Kind: EventBuildFolderPatch})
	patch := BuildFolderPatch(lc, ll, rc, rl)

	var dataHunks, cacheHunks []Hunk
	for _, h := range patch {
		switch h.Kind {
		case HunkCacheInsertFolder, HunkCacheDeleteFolder:
			cacheHunks = append(cacheHunks, h)
		default:
			dataHunks = append(dataHunks, h)
		}
	}

	e.Bus.Emit(ctx, Event{Kind: EventApplyFolderPatches, Count: len(dataHunks)})
	dataResults := RunPool(ctx, e.concurrency(), dataHunks, e.applyDataHunk, func(h Hunk, err error) {
		e.Bus.Emit(ctx, Event{Kind: EventApplyFolderHunk, Hunk: h, HunkErr: err})
	})

	// Cache mutations for Create/Delete only follow success; cache-only
	// hunks (no matching data hunk) are unconditional.
	succeeded := map[FolderName]bool{}
	for _, r := range dataResults {
		if r.Err == nil {
			succeeded[r.Hunk.Folder] = true
		}
	}
	var gatedCacheHunks []Hunk
	for _, h := range cacheHunks {
		if hasMatchingDataHunk(dataHunks, h.Folder) {
			if succeeded[h.Folder] {
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
			e.Bus.Emit(ctx, Event{Kind: EventApplyFolderHunk, Hunk: h, HunkErr: err})
		})
	}

	nowPresent, err := e.Left.ListFolders(ctx)
	if err != nil {
		nowPresent = ll
	} else {
		nowPresent = canonicalizeFolderSet(e.FolderAliases, nowPresent)
	}

	return FolderSyncReport{
		FoldersNowPresent: nowPresent,
		Hunks:             dataResults,
		CacheHunks:        cacheResults,
	}, nil
}

func hasMatchingDataHunk(dataHunks []Hunk, folder FolderName) bool {
	for _, d := range dataHunks {
		if d.Folder == folder {
			return true
		}
	}
	return false
}

func (e *FolderEngine) applyDataHunk(ctx context.Context, h Hunk) error {
	if e.DryRun {
		return nil
	}
	switch h.Kind {
	case HunkCreateFolder:
		return e.backendFor(h.Side).AddFolder(ctx, h.Folder)
	case HunkDeleteFolder:
		return e.backendFor(h.Side).DeleteFolder(ctx, h.Folder)
	default:
		return fmt.Errorf("folder engine: unexpected data hunk kind %v", h.Kind)
	}
}

func (e *FolderEngine) applyCacheHunk(ctx context.Context, h Hunk) error {
	switch h.Kind {
	case HunkCacheInsertFolder:
		return e.Cache.InsertFolder(ctx, h.Side, h.Folder)
	case HunkCacheDeleteFolder:
		return e.Cache.DeleteFolder(ctx, h.Side, h.Folder)
	default:
		return fmt.Errorf("folder engine: unexpected cache hunk kind %v", h.Kind)
	}
}

func (e *FolderEngine) backendFor(side Side) Backend {
	if side == Left {
		return e.Left
	}
	return e.Right
}
