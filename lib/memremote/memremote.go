// Package memremote is an in-memory syncengine.Backend, usable as either
// side of a sync. It exists for tests and for the CLI's --demo mode, where
// no real IMAP server is available.
package memremote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"sync"

	"github.com/danmarg/msync/lib/syncengine"
)

func newReader(raw []byte) io.Reader { return bytes.NewReader(raw) }

type message struct {
	uid   uint32
	raw   []byte
	flags syncengine.FlagSet
}

type mailbox struct {
	mu       sync.RWMutex
	messages []*message
	nextUID  uint32
}

func newMailbox() *mailbox {
	return &mailbox{nextUID: 1}
}

// Backend is a sync.RWMutex-guarded map of folder name to mailbox,
// satisfying syncengine.Backend entirely in memory.
type Backend struct {
	mu        sync.RWMutex
	mailboxes map[syncengine.FolderName]*mailbox
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{mailboxes: map[syncengine.FolderName]*mailbox{}}
}

func (b *Backend) ListFolders(ctx context.Context) (syncengine.FolderSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := syncengine.FolderSet{}
	for name := range b.mailboxes {
		out[name] = struct{}{}
	}
	return out, nil
}

func (b *Backend) AddFolder(ctx context.Context, name syncengine.FolderName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[name]; !ok {
		b.mailboxes[name] = newMailbox()
	}
	return nil
}

func (b *Backend) DeleteFolder(ctx context.Context, name syncengine.FolderName) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.mailboxes, name)
	return nil
}

func (b *Backend) mailbox(name syncengine.FolderName) (*mailbox, error) {
	b.mu.RLock()
	m, ok := b.mailboxes[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: folder %s does not exist", syncengine.ErrBackend, name)
	}
	return m, nil
}

func (b *Backend) ListEnvelopes(ctx context.Context, folder syncengine.FolderName) ([]syncengine.EnvelopeIdentity, error) {
	m, err := b.mailbox(folder)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]syncengine.EnvelopeIdentity, 0, len(m.messages))
	for _, msg := range m.messages {
		ident, err := parseEnvelope(msg)
		if err != nil {
			continue
		}
		out = append(out, ident)
	}
	return out, nil
}

func parseEnvelope(msg *message) (syncengine.EnvelopeIdentity, error) {
	parsed, err := mail.ReadMessage(newReader(msg.raw))
	if err != nil {
		return syncengine.EnvelopeIdentity{}, err
	}
	date, _ := parsed.Header.Date()
	var unix int64
	if !date.IsZero() {
		unix = date.Unix()
	}
	return syncengine.EnvelopeIdentity{
		InternalID: strconv.FormatUint(uint64(msg.uid), 10),
		MessageID:  syncengine.MessageID(parsed.Header.Get("Message-Id")),
		Flags:      msg.flags.Clone(),
		Date:       unix,
		From:       parsed.Header.Get("From"),
		Subject:    parsed.Header.Get("Subject"),
	}, nil
}

func (b *Backend) AddRawMessage(ctx context.Context, folder syncengine.FolderName, raw []byte, flags syncengine.FlagSet) (string, error) {
	m, err := b.mailbox(folder)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uid := m.nextUID
	m.nextUID++
	m.messages = append(m.messages, &message{uid: uid, raw: append([]byte(nil), raw...), flags: flags.Clone()})
	return strconv.FormatUint(uint64(uid), 10), nil
}

func (b *Backend) PeekMessage(ctx context.Context, folder syncengine.FolderName, internalID string) (io.ReadCloser, error) {
	m, err := b.mailbox(folder)
	if err != nil {
		return nil, err
	}
	uid, err := parseUID(internalID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.uid == uid {
			return io.NopCloser(newReader(msg.raw)), nil
		}
	}
	return nil, fmt.Errorf("%w: message %s not found in %s", syncengine.ErrBackend, internalID, folder)
}

func (b *Backend) SetFlags(ctx context.Context, folder syncengine.FolderName, internalID string, flags syncengine.FlagSet) error {
	m, err := b.mailbox(folder)
	if err != nil {
		return err
	}
	uid, err := parseUID(internalID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.uid == uid {
			msg.flags = flags.Clone()
			return nil
		}
	}
	return fmt.Errorf("%w: message %s not found in %s", syncengine.ErrBackend, internalID, folder)
}

func (b *Backend) MoveMessages(ctx context.Context, from, to syncengine.FolderName, internalIDs []string) error {
	src, err := b.mailbox(from)
	if err != nil {
		return err
	}
	dst, err := b.mailbox(to)
	if err != nil {
		return err
	}
	want := map[uint32]bool{}
	for _, id := range internalIDs {
		uid, err := parseUID(id)
		if err != nil {
			return err
		}
		want[uid] = true
	}

	src.mu.Lock()
	var moved, kept []*message
	for _, msg := range src.messages {
		if want[msg.uid] {
			moved = append(moved, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	src.messages = kept
	src.mu.Unlock()

	dst.mu.Lock()
	for _, msg := range moved {
		uid := dst.nextUID
		dst.nextUID++
		dst.messages = append(dst.messages, &message{uid: uid, raw: msg.raw, flags: msg.flags.Clone()})
	}
	dst.mu.Unlock()
	return nil
}

func (b *Backend) ExpungeFolder(ctx context.Context, folder syncengine.FolderName) error {
	m, err := b.mailbox(folder)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]*message, 0, len(m.messages))
	for _, msg := range m.messages {
		if !msg.flags.Has(syncengine.FlagDeleted) {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

func parseUID(id string) (uint32, error) {
	v, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed internal id %q", syncengine.ErrBackend, id)
	}
	return uint32(v), nil
}
