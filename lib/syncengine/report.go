package syncengine

// FolderSyncReport is the outcome of sync_folders (§4.3 step 6).
type FolderSyncReport struct {
	FoldersNowPresent FolderSet
	Hunks             []HunkResult // data hunks (Create/Delete)
	CacheHunks        []HunkResult // cache hunks (CacheInsert/CacheDelete)
}

// EnvelopeSyncReport is the outcome of sync_envelopes (§4.4).
type EnvelopeSyncReport struct {
	Hunks        []HunkResult // data hunks (Copy/Update/Delete), across all folders
	CacheHunks   []HunkResult // cache hunks, across all folders
	Expunged     map[FolderName][2]error // per folder: [Left err, Right err]; nil = success
}

// Report is the Run Controller's aggregated, top-level result (§4.7 step 7).
type Report struct {
	Folders   FolderSyncReport
	Envelopes EnvelopeSyncReport
}
