package syncengine

import "errors"

// Configuration, Lock, Cache, and Backend errors are fatal to Sync; Hunk and
// Expunge errors are captured per-item in the report instead. Plain
// sentinel errors wrapped with fmt.Errorf's %w, no third-party
// error-annotation library — see DESIGN.md.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrLock          = errors.New("lock error")
	ErrCache         = errors.New("cache error")
	ErrBackend       = errors.New("backend error")
)
