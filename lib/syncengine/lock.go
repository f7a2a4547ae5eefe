package syncengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// AccountLock is the account's single-file advisory lock (§6: "<OS
// temp>/sync-<account>.lock"). It is the only synchronization primitive
// between concurrent runs of this engine for one account.
type AccountLock struct {
	fl   *flock.Flock
	path string
}

// LockPath returns the canonical lock path for account.
func LockPath(account string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("sync-%s.lock", account))
}

// AcquireAccountLock opens and takes an exclusive, non-blocking advisory
// lock on the account's lock file. It fails cleanly (ErrLock) if another run
// already holds it, per §4.7 step 2.
//
// A single TryLock() attempt is used rather than TryLockContext(ctx, 0):
// flock's TryLockContext retries on a ticker once the first attempt reports
// the file is already held, and a zero retryDelay makes that ticker panic —
// exactly on the lock-contention path this function exists to fail cleanly
// on. A single non-blocking attempt is all a zero-retry caller wants anyway.
func AcquireAccountLock(ctx context.Context, account string) (*AccountLock, error) {
	path := LockPath(account)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock %s: %v", ErrLock, path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: account %s is already syncing", ErrLock, account)
	}
	return &AccountLock{fl: fl, path: path}, nil
}

// Release unlocks the file. §4.7 step 6 requires this on every exit path;
// §7 says a release failure after a successful run only logs, it is not
// fatal, so Release returns the error for the caller to log rather than
// treat as a Sync failure.
func (l *AccountLock) Release() error {
	if l == nil {
		return nil
	}
	return l.fl.Unlock()
}
