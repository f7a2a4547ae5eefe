// Package imapremote implements syncengine.Backend against a real IMAP
// server, via github.com/emersion/go-imap's client package.
package imapremote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/danmarg/msync/lib"
	"github.com/danmarg/msync/lib/syncengine"
)

// rpcTimeout bounds each Backend method call, covering all of that call's
// IMAP round trips and retries together.
const rpcTimeout = 30 * time.Second

var flagToIMAP = map[syncengine.Flag]string{
	syncengine.FlagSeen:     imap.SeenFlag,
	syncengine.FlagAnswered: imap.AnsweredFlag,
	syncengine.FlagFlagged:  imap.FlaggedFlag,
	syncengine.FlagDeleted:  imap.DeletedFlag,
	syncengine.FlagDraft:    imap.DraftFlag,
}

var imapToFlag = map[string]syncengine.Flag{
	imap.SeenFlag:     syncengine.FlagSeen,
	imap.AnsweredFlag: syncengine.FlagAnswered,
	imap.FlaggedFlag:  syncengine.FlagFlagged,
	imap.DeletedFlag:  syncengine.FlagDeleted,
	imap.DraftFlag:    syncengine.FlagDraft,
	imap.RecentFlag:   syncengine.FlagRecent,
}

func flagSetToIMAP(fs syncengine.FlagSet) []string {
	out := make([]string, 0, len(fs))
	for f := range fs {
		if s, ok := flagToIMAP[f]; ok {
			out = append(out, s)
		}
	}
	return out
}

func flagSetToIMAPInterfaces(fs syncengine.FlagSet) []interface{} {
	strs := flagSetToIMAP(fs)
	out := make([]interface{}, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}

func imapFlagsToFlagSet(flags []string) syncengine.FlagSet {
	out := syncengine.FlagSet{}
	for _, s := range flags {
		if f, ok := imapToFlag[s]; ok {
			out[f] = struct{}{}
		}
	}
	return out
}

// Backend wraps one logged-in IMAP connection. The engine hands it around
// single-threaded per side, so no locking is needed beyond the client's own.
type Backend struct {
	c     *client.Client
	limit *lib.RateLimit
}

// Dial connects to addr (host:port), negotiates TLS, and authenticates with
// user/pass via PLAIN SASL. rate bounds the number of IMAP commands issued
// per second.
func Dial(addr, user, pass string, rate uint) (*Backend, error) {
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", syncengine.ErrBackend, addr, err)
	}
	auth := sasl.NewPlainClient("", user, pass)
	if err := c.Authenticate(auth); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: authenticate: %v", syncengine.ErrBackend, err)
	}
	limit := &lib.RateLimit{
		Period:       time.Second,
		Rate:         rate,
		BackoffLimit: 5,
		BackoffStart: 200 * time.Millisecond,
	}
	limit.Start()
	return &Backend{c: c, limit: limit}, nil
}

// Close logs out and stops the rate limiter.
func (b *Backend) Close() error {
	b.limit.Stop()
	return b.c.Logout()
}

// call runs f under the rate limiter's backoff. All attempts share ctx's
// deadline; an attempt still running when ctx is done is abandoned and not
// retried.
func (b *Backend) call(ctx context.Context, f func() error) error {
	return b.limit.DoWithBackoff(func() (error, bool) {
		done := make(chan error, 1)
		go func() { done <- f() }()
		select {
		case err := <-done:
			return err, false
		case <-ctx.Done():
			return ctx.Err(), true
		}
	})
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, rpcTimeout)
}

func (b *Backend) ListFolders(ctx context.Context) (syncengine.FolderSet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	out := syncengine.FolderSet{}
	var listErr error
	err := b.call(ctx, func() error {
		mailboxes := make(chan *imap.MailboxInfo, 16)
		done := make(chan error, 1)
		go func() { done <- b.c.List("", "*", mailboxes) }()
		for m := range mailboxes {
			out[syncengine.FolderName(m.Name)] = struct{}{}
		}
		listErr = <-done
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list folders: %v", syncengine.ErrBackend, err)
	}
	return out, nil
}

func (b *Backend) AddFolder(ctx context.Context, name syncengine.FolderName) error {
	if existing, err := b.ListFolders(ctx); err == nil && existing.Has(name) {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := b.call(ctx, func() error { return b.c.Create(string(name)) })
	if err != nil {
		return fmt.Errorf("%w: add folder %s: %v", syncengine.ErrBackend, name, err)
	}
	return nil
}

func (b *Backend) DeleteFolder(ctx context.Context, name syncengine.FolderName) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := b.call(ctx, func() error { return b.c.Delete(string(name)) })
	if err != nil {
		return fmt.Errorf("%w: delete folder %s: %v", syncengine.ErrBackend, name, err)
	}
	return nil
}

func (b *Backend) selectFolder(ctx context.Context, folder syncengine.FolderName, readOnly bool) error {
	return b.call(ctx, func() error {
		_, err := b.c.Select(string(folder), readOnly)
		return err
	})
}

func (b *Backend) ListEnvelopes(ctx context.Context, folder syncengine.FolderName) ([]syncengine.EnvelopeIdentity, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := b.selectFolder(ctx, folder, true); err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", syncengine.ErrBackend, folder, err)
	}

	var uids []uint32
	if err := b.call(ctx, func() error {
		var err error
		uids, err = b.c.UidSearch(&imap.SearchCriteria{})
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", syncengine.ErrBackend, folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seq := new(imap.SeqSet)
	for _, u := range uids {
		seq.AddNum(u)
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope, imap.FetchInternalDate}

	var out []syncengine.EnvelopeIdentity
	err := b.call(ctx, func() error {
		messages := make(chan *imap.Message, 32)
		done := make(chan error, 1)
		go func() { done <- b.c.UidFetch(seq, items, messages) }()
		for msg := range messages {
			out = append(out, envelopeFromIMAP(msg))
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", syncengine.ErrBackend, folder, err)
	}
	return out, nil
}

func envelopeFromIMAP(msg *imap.Message) syncengine.EnvelopeIdentity {
	ident := syncengine.EnvelopeIdentity{
		InternalID: fmt.Sprintf("%d", msg.Uid),
		Flags:      imapFlagsToFlagSet(msg.Flags),
		Date:       msg.InternalDate.Unix(),
	}
	if msg.Envelope != nil {
		ident.MessageID = syncengine.MessageID(msg.Envelope.MessageId)
		ident.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			ident.From = msg.Envelope.From[0].Address()
		}
		if !msg.Envelope.Date.IsZero() {
			ident.Date = msg.Envelope.Date.Unix()
		}
	}
	return ident
}

func (b *Backend) AddRawMessage(ctx context.Context, folder syncengine.FolderName, raw []byte, flags syncengine.FlagSet) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	imapFlags := flagSetToIMAP(flags)
	err := b.call(ctx, func() error {
		return b.c.Append(string(folder), imapFlags, time.Time{}, bytes.NewReader(raw))
	})
	if err != nil {
		return "", fmt.Errorf("%w: append to %s: %v", syncengine.ErrBackend, folder, err)
	}
	// IMAP APPEND does not report the assigned UID without the UIDPLUS
	// extension; re-list the folder and return the last envelope listed,
	// taken to be the one just appended.
	envs, err := b.ListEnvelopes(ctx, folder)
	if err != nil {
		return "", err
	}
	if len(envs) == 0 {
		return "", fmt.Errorf("%w: append to %s: message not found after append", syncengine.ErrBackend, folder)
	}
	return envs[len(envs)-1].InternalID, nil
}

func (b *Backend) PeekMessage(ctx context.Context, folder syncengine.FolderName, internalID string) (io.ReadCloser, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := b.selectFolder(ctx, folder, true); err != nil {
		return nil, fmt.Errorf("%w: select %s: %v", syncengine.ErrBackend, folder, err)
	}
	uid, err := parseUID(internalID)
	if err != nil {
		return nil, err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	var raw []byte
	err = b.call(ctx, func() error {
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() { done <- b.c.UidFetch(seq, items, messages) }()
		for msg := range messages {
			if lit := msg.GetBody(section); lit != nil {
				buf := new(bytes.Buffer)
				if _, err := io.Copy(buf, lit); err != nil {
					return err
				}
				raw = buf.Bytes()
			}
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("%w: peek %s/%s: %v", syncengine.ErrBackend, folder, internalID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: peek %s/%s: message not found", syncengine.ErrBackend, folder, internalID)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *Backend) SetFlags(ctx context.Context, folder syncengine.FolderName, internalID string, flags syncengine.FlagSet) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := b.selectFolder(ctx, folder, false); err != nil {
		return fmt.Errorf("%w: select %s: %v", syncengine.ErrBackend, folder, err)
	}
	uid, err := parseUID(internalID)
	if err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	item := imap.FormatFlagsOp(imap.SetFlags, true)
	err = b.call(ctx, func() error {
		return b.c.UidStore(seq, item, flagSetToIMAPInterfaces(flags), nil)
	})
	if err != nil {
		return fmt.Errorf("%w: set flags %s/%s: %v", syncengine.ErrBackend, folder, internalID, err)
	}
	return nil
}

// MoveMessages copies each message to the destination folder and marks the
// originals Deleted; actual removal happens in the engine's separate
// expunge pass (§4.4 step 6), so this never calls Expunge itself.
func (b *Backend) MoveMessages(ctx context.Context, from, to syncengine.FolderName, internalIDs []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := b.selectFolder(ctx, from, false); err != nil {
		return fmt.Errorf("%w: select %s: %v", syncengine.ErrBackend, from, err)
	}
	seq := new(imap.SeqSet)
	for _, id := range internalIDs {
		uid, err := parseUID(id)
		if err != nil {
			return err
		}
		seq.AddNum(uid)
	}
	if err := b.call(ctx, func() error { return b.c.UidCopy(seq, string(to)) }); err != nil {
		return fmt.Errorf("%w: copy %s->%s: %v", syncengine.ErrBackend, from, to, err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	deleted := []interface{}{imap.DeletedFlag}
	if err := b.call(ctx, func() error { return b.c.UidStore(seq, item, deleted, nil) }); err != nil {
		return fmt.Errorf("%w: mark deleted %s: %v", syncengine.ErrBackend, from, err)
	}
	return nil
}

func (b *Backend) ExpungeFolder(ctx context.Context, folder syncengine.FolderName) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := b.selectFolder(ctx, folder, false); err != nil {
		return fmt.Errorf("%w: select %s: %v", syncengine.ErrBackend, folder, err)
	}
	if err := b.call(ctx, func() error { return b.c.Expunge(nil) }); err != nil {
		return fmt.Errorf("%w: expunge %s: %v", syncengine.ErrBackend, folder, err)
	}
	return nil
}

func parseUID(id string) (uint32, error) {
	var uid uint32
	_, err := fmt.Sscanf(id, "%d", &uid)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed internal id %q", syncengine.ErrBackend, id)
	}
	return uid, nil
}
