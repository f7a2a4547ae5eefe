// Package maildir implements reading and writing maildir directories as specified in http://cr.yp.to/proto/maildir.html.
package maildir

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	cur = "cur"
	tmp = "tmp"
	nw  = "new"
)

var (
	pid      int
	cntr     uint64
	hostname string
)

func init() {
	pid = os.Getpid()
	h, _ := os.Hostname()
	hostname = strings.Replace(strings.Replace(h, "/", "\057", -1), ":", "\072", -1)
}

// Key is a key of a maildir message: the unique basename minus any
// ":2,<flags>" info suffix.
type Key string

// flagLetters is the canonical ASCII order maildir requires info-suffix
// letters to appear in: Draft, Flagged, Replied, Seen, Trashed. Custom
// flags have no maildir-letter equivalent and are not represented here.
const flagLetters = "DFRST"

// Maildir is a single maildir directory.
type Maildir struct {
	dir string
}

// Create creates a maildir rooted at dir.
func Create(dir string) (Maildir, error) {
	m := Maildir{dir}
	for _, x := range []string{cur, tmp, nw} {
		if err := os.MkdirAll(path.Join(dir, x), 0766); err != nil {
			return m, err
		}
	}
	return m, nil
}

// uniqueName generates a new maildir-unique basename, per Deliver's scheme.
func uniqueName() string {
	k := strconv.FormatInt(time.Now().Unix(), 10) + "."
	k += strconv.FormatInt(int64(pid), 10) + "_" + strconv.FormatUint(atomic.AddUint64(&cntr, 1), 10)
	k += "." + hostname
	return k
}

// Deliver writes raw RFC 5322 message bytes into "new", unflagged and
// Recent. Returns the new message's Key.
func (d Maildir) Deliver(raw []byte) (Key, error) {
	k := uniqueName()
	if err := d.writeTmp(k, raw); err != nil {
		return Key(k), err
	}
	return Key(k), os.Rename(path.Join(d.dir, tmp, k), path.Join(d.dir, nw, k))
}

// Append writes raw message bytes directly into "cur" with the given
// info-suffix flag letters (already sorted), skipping "new": used when a
// message arrives with a known flag set, e.g. copied from another side.
func (d Maildir) Append(raw []byte, flags string) (Key, error) {
	k := uniqueName()
	if err := d.writeTmp(k, raw); err != nil {
		return Key(k), err
	}
	name := k + ":2," + flags
	return Key(k), os.Rename(path.Join(d.dir, tmp, k), path.Join(d.dir, cur, name))
}

func (d Maildir) writeTmp(k string, raw []byte) error {
	f, err := os.Create(path.Join(d.dir, tmp, k))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(raw)
	return err
}

// Entry is one listed message: its Key, its maildir info-suffix flag
// letters (sorted), and whether it currently lives in "new" (Recent).
type Entry struct {
	Key    Key
	Flags  string
	Recent bool
}

// List enumerates every message in cur and new.
func (d Maildir) List() ([]Entry, error) {
	var out []Entry
	newFs, err := ioutil.ReadDir(path.Join(d.dir, nw))
	if err != nil {
		return nil, err
	}
	for _, f := range newFs {
		if f.IsDir() {
			continue
		}
		out = append(out, Entry{Key: Key(f.Name()), Recent: true})
	}
	curFs, err := ioutil.ReadDir(path.Join(d.dir, cur))
	if err != nil {
		return nil, err
	}
	for _, f := range curFs {
		if f.IsDir() {
			continue
		}
		key, flags := splitInfo(f.Name())
		out = append(out, Entry{Key: Key(key), Flags: flags})
	}
	return out, nil
}

// splitInfo splits a cur/ basename into its Key and sorted info-suffix
// flag letters.
func splitInfo(name string) (string, string) {
	i := strings.LastIndex(name, ":2,")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+3:]
}

// GetFile gets the file path for the specified key, checking new then cur.
func (d Maildir) GetFile(k Key) (string, error) {
	f := path.Join(d.dir, nw, string(k))
	if _, err := os.Stat(f); err == nil {
		return f, nil
	}
	fs, err := ioutil.ReadDir(path.Join(d.dir, cur))
	if err != nil {
		return "", err
	}
	for _, f := range fs {
		if f.Name() == string(k) || strings.HasPrefix(f.Name(), string(k)+":") {
			return path.Join(d.dir, cur, f.Name()), nil
		}
	}
	return "", fmt.Errorf("maildir: key %s does not exist", k)
}

// Open opens the message file for reading, without touching its flags.
func (d Maildir) Open(k Key) (io.ReadCloser, error) {
	f, err := d.GetFile(k)
	if err != nil {
		return nil, err
	}
	return os.Open(f)
}

// SetFlags rewrites the info suffix for k, moving it into cur if it was
// still in new. flags must already be sorted per flagLetters' order.
func (d Maildir) SetFlags(k Key, flags string) error {
	old, err := d.GetFile(k)
	if err != nil {
		return err
	}
	newName := path.Join(d.dir, cur, string(k)+":2,"+flags)
	if old == newName {
		return nil
	}
	return os.Rename(old, newName)
}

// Delete removes the message with the specified key from cur/new.
func (d Maildir) Delete(k Key) error {
	f, err := d.GetFile(k)
	if err != nil {
		return err
	}
	return os.Remove(f)
}

// SortFlagLetters returns the subset of letters present in s, in
// maildir's required ASCII order.
func SortFlagLetters(s string) string {
	set := map[byte]bool{}
	for i := 0; i < len(s); i++ {
		set[s[i]] = true
	}
	var out []byte
	for i := 0; i < len(flagLetters); i++ {
		if set[flagLetters[i]] {
			out = append(out, flagLetters[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}
