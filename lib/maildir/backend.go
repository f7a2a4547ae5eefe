package maildir

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/mail"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmarg/msync/lib/syncengine"
)

// letterToFlag and flagToLetter map syncengine's fixed flags to maildir's single-letter
// info-suffix codes and back. Custom flags have no maildir equivalent and
// are dropped on the way to disk, and never reappear on the way back.
var letterToFlag = map[byte]syncengine.Flag{
	'D': syncengine.FlagDraft,
	'F': syncengine.FlagFlagged,
	'R': syncengine.FlagAnswered,
	'S': syncengine.FlagSeen,
	'T': syncengine.FlagDeleted,
}

var flagToLetter = map[syncengine.Flag]byte{
	syncengine.FlagDraft:    'D',
	syncengine.FlagFlagged:  'F',
	syncengine.FlagAnswered: 'R',
	syncengine.FlagSeen:     'S',
	syncengine.FlagDeleted:  'T',
}

func flagSetToLetters(fs syncengine.FlagSet) string {
	var letters []byte
	for f := range fs {
		if l, ok := flagToLetter[f]; ok {
			letters = append(letters, l)
		}
	}
	return SortFlagLetters(string(letters))
}

func lettersToFlagSet(letters string, recent bool) syncengine.FlagSet {
	out := syncengine.FlagSet{}
	for i := 0; i < len(letters); i++ {
		if f, ok := letterToFlag[letters[i]]; ok {
			out[f] = struct{}{}
		}
	}
	if recent {
		out[syncengine.FlagRecent] = struct{}{}
	}
	return out
}

// Backend implements syncengine.Backend over a directory containing one
// maildir subdirectory per folder, e.g. <root>/INBOX, <root>/Archive. It is
// the "local" side of a sync in the common case.
type Backend struct {
	root string

	mu   sync.Mutex
	open map[syncengine.FolderName]Maildir
}

// NewBackend opens (and creates if absent) root as a multi-folder maildir
// tree.
func NewBackend(root string) (*Backend, error) {
	if err := os.MkdirAll(root, 0766); err != nil {
		return nil, fmt.Errorf("maildir: create root %s: %w", root, err)
	}
	return &Backend{root: root, open: map[syncengine.FolderName]Maildir{}}, nil
}

func (b *Backend) folderPath(name syncengine.FolderName) string {
	return filepath.Join(b.root, filepath.FromSlash(string(name)))
}

func (b *Backend) openFolder(name syncengine.FolderName) (Maildir, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.open[name]; ok {
		return m, nil
	}
	m, err := Create(b.folderPath(name))
	if err != nil {
		return m, err
	}
	b.open[name] = m
	return m, nil
}

func (b *Backend) ListFolders(ctx context.Context) (syncengine.FolderSet, error) {
	entries, err := ioutil.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list folders: %v", syncengine.ErrBackend, err)
	}
	out := syncengine.FolderSet{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !isMaildirFolder(filepath.Join(b.root, e.Name())) {
			continue
		}
		out[syncengine.FolderName(e.Name())] = struct{}{}
	}
	return out, nil
}

// isMaildirFolder reports whether dir looks like a maildir (has cur/tmp/new).
func isMaildirFolder(dir string) bool {
	for _, x := range []string{cur, tmp, nw} {
		if s, err := os.Stat(filepath.Join(dir, x)); err != nil || !s.IsDir() {
			return false
		}
	}
	return true
}

func (b *Backend) AddFolder(ctx context.Context, name syncengine.FolderName) error {
	m, err := Create(b.folderPath(name))
	if err != nil {
		return fmt.Errorf("%w: add folder %s: %v", syncengine.ErrBackend, name, err)
	}
	b.mu.Lock()
	b.open[name] = m
	b.mu.Unlock()
	return nil
}

func (b *Backend) DeleteFolder(ctx context.Context, name syncengine.FolderName) error {
	b.mu.Lock()
	delete(b.open, name)
	b.mu.Unlock()
	if err := os.RemoveAll(b.folderPath(name)); err != nil {
		return fmt.Errorf("%w: delete folder %s: %v", syncengine.ErrBackend, name, err)
	}
	return nil
}

func (b *Backend) ListEnvelopes(ctx context.Context, folder syncengine.FolderName) ([]syncengine.EnvelopeIdentity, error) {
	m, err := b.openFolder(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	entries, err := m.List()
	if err != nil {
		return nil, fmt.Errorf("%w: list envelopes %s: %v", syncengine.ErrBackend, folder, err)
	}
	out := make([]syncengine.EnvelopeIdentity, 0, len(entries))
	for _, e := range entries {
		ident, err := readEnvelopeIdentity(m, e)
		if err != nil {
			continue // unreadable/malformed message; skip rather than fail the whole listing
		}
		out = append(out, ident)
	}
	return out, nil
}

func readEnvelopeIdentity(m Maildir, e Entry) (syncengine.EnvelopeIdentity, error) {
	r, err := m.Open(e.Key)
	if err != nil {
		return syncengine.EnvelopeIdentity{}, err
	}
	defer r.Close()
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return syncengine.EnvelopeIdentity{}, err
	}
	date, _ := msg.Header.Date()
	var unix int64
	if !date.IsZero() {
		unix = date.Unix()
	}
	return syncengine.EnvelopeIdentity{
		InternalID: string(e.Key),
		MessageID:  syncengine.MessageID(msg.Header.Get("Message-Id")),
		Flags:      lettersToFlagSet(e.Flags, e.Recent),
		Date:       unix,
		From:       msg.Header.Get("From"),
		Subject:    msg.Header.Get("Subject"),
	}, nil
}

func (b *Backend) AddRawMessage(ctx context.Context, folder syncengine.FolderName, raw []byte, flags syncengine.FlagSet) (string, error) {
	m, err := b.openFolder(folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	if flags.Has(syncengine.FlagRecent) || len(flags) == 0 {
		k, err := m.Deliver(raw)
		if err != nil {
			return "", fmt.Errorf("%w: deliver to %s: %v", syncengine.ErrBackend, folder, err)
		}
		return string(k), nil
	}
	k, err := m.Append(raw, flagSetToLetters(flags))
	if err != nil {
		return "", fmt.Errorf("%w: append to %s: %v", syncengine.ErrBackend, folder, err)
	}
	return string(k), nil
}

func (b *Backend) PeekMessage(ctx context.Context, folder syncengine.FolderName, internalID string) (io.ReadCloser, error) {
	m, err := b.openFolder(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	r, err := m.Open(Key(internalID))
	if err != nil {
		return nil, fmt.Errorf("%w: peek %s/%s: %v", syncengine.ErrBackend, folder, internalID, err)
	}
	return r, nil
}

func (b *Backend) SetFlags(ctx context.Context, folder syncengine.FolderName, internalID string, flags syncengine.FlagSet) error {
	m, err := b.openFolder(folder)
	if err != nil {
		return fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	if err := m.SetFlags(Key(internalID), flagSetToLetters(flags)); err != nil {
		return fmt.Errorf("%w: set flags %s/%s: %v", syncengine.ErrBackend, folder, internalID, err)
	}
	return nil
}

// MoveMessages copies the raw bytes and flags of each message into the
// destination folder and deletes the originals; maildir has no atomic
// cross-directory move primitive that preserves the unique-name scheme.
func (b *Backend) MoveMessages(ctx context.Context, from, to syncengine.FolderName, internalIDs []string) error {
	src, err := b.openFolder(from)
	if err != nil {
		return fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	dst, err := b.openFolder(to)
	if err != nil {
		return fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	for _, id := range internalIDs {
		key := Key(id)
		f, err := src.GetFile(key)
		if err != nil {
			return fmt.Errorf("%w: move %s: %v", syncengine.ErrBackend, id, err)
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("%w: move %s: %v", syncengine.ErrBackend, id, err)
		}
		_, flags := splitInfo(filepath.Base(f))
		if _, err := dst.Append(raw, flags); err != nil {
			return fmt.Errorf("%w: move %s: %v", syncengine.ErrBackend, id, err)
		}
		if err := src.Delete(key); err != nil {
			return fmt.Errorf("%w: move %s: %v", syncengine.ErrBackend, id, err)
		}
	}
	return nil
}

// ExpungeFolder permanently removes every message flagged Deleted (maildir
// letter "T").
func (b *Backend) ExpungeFolder(ctx context.Context, folder syncengine.FolderName) error {
	m, err := b.openFolder(folder)
	if err != nil {
		return fmt.Errorf("%w: %v", syncengine.ErrBackend, err)
	}
	entries, err := m.List()
	if err != nil {
		return fmt.Errorf("%w: expunge %s: %v", syncengine.ErrBackend, folder, err)
	}
	var firstErr error
	for _, e := range entries {
		if e.Recent {
			continue
		}
		for i := 0; i < len(e.Flags); i++ {
			if e.Flags[i] == 'T' {
				if err := m.Delete(e.Key); err != nil && firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%w: expunge %s: %v", syncengine.ErrBackend, folder, firstErr)
	}
	return nil
}
