package syncengine

import (
	"context"
	"fmt"
	"log"
)

// Controller is the top-level entry point (component C7): it owns the
// account lock, wires the Folder Engine and Envelope Engine together over
// one Cache Store, and produces the aggregated Report for one run.
type Controller struct {
	Left, Right Backend
	Bus         *Bus
}

// Sync runs one full synchronization for cfg, per §4.7:
//  1. refuse if sync is disabled for the account
//  2. acquire the account's advisory lock
//  3. open/init the cache store under cfg.SyncDir
//  4. run the Folder Engine, then the Envelope Engine over its result
//  5. release the lock on every exit path, logging (not failing) a release
//     error
//
// Sync returns a Report whenever both snapshot phases completed, even if
// individual hunks failed; it returns an error only for configuration,
// lock, cache, or snapshot failures (§7).
func (c *Controller) Sync(ctx context.Context, cfg Config) (Report, error) {
	if !cfg.SyncEnabled {
		return Report{}, fmt.Errorf("%w: sync is disabled for account %s", ErrConfiguration, cfg.Account)
	}

	lock, err := AcquireAccountLock(ctx, cfg.Account)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("release lock for account %s: %v", cfg.Account, err)
		}
	}()

	cachePath := cfg.SyncDir + "/cache.db"
	cache, err := OpenCacheStore(ctx, cachePath, cfg.Account)
	if err != nil {
		return Report{}, err
	}
	defer cache.Close()

	folderEngine := &FolderEngine{
		Left:          c.Left,
		Right:         c.Right,
		Cache:         cache,
		Bus:           c.Bus,
		DryRun:        cfg.DryRun,
		FolderAliases: cfg.FolderAliases,
	}
	folderReport, err := folderEngine.Sync(ctx, cfg.CanonicalizeStrategy(cfg.Strategy))
	if err != nil {
		return Report{}, err
	}

	envelopeEngine := &EnvelopeEngine{
		Left:   c.Left,
		Right:  c.Right,
		Cache:  cache,
		Bus:    c.Bus,
		DryRun: cfg.DryRun,
	}
	envelopeReport, err := envelopeEngine.Sync(ctx, folderReport.FoldersNowPresent)
	if err != nil {
		return Report{}, err
	}

	return Report{Folders: folderReport, Envelopes: envelopeReport}, nil
}
