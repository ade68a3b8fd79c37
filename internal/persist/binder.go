// Package persist implements the Persistence Binder: the one-shot-per-room
// load protocol that seeds a Room's Shared Document from durable storage
// and the admin service, plus the two write-back observers that keep both
// in sync with further edits.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/dalive/collabworker/internal/adminclient"
	"github.com/dalive/collabworker/internal/crdtdoc"
	"github.com/dalive/collabworker/internal/htmltree"
	"github.com/dalive/collabworker/internal/storage"
)

const (
	writeBackQuiet   = 2 * time.Second
	writeBackMaxWait = 10 * time.Second
	rebuildDelay     = time.Second
)

// RoomHooks decouples the Binder from the Room's connection bookkeeping and
// the Registry, so this package can be tested without either.
type RoomHooks struct {
	// StillOwner reports whether this Room is still the registered owner
	// of the document name. Checked before every durable write and before
	// every admin write-back.
	StillOwner func() bool
	// NonReadOnlyCredentials returns the credential of every connection
	// that is not read-only, for the write-back Authorization header.
	// Duplicates are allowed; adminclient.MergeAuthorization removes them.
	NonReadOnlyCredentials func() []string
	// CloseAllConnections closes every connection of the Room, including
	// read-only ones.
	CloseAllConnections func()
	// Deregister removes the Room from the Registry.
	Deregister func()
}

// Binder runs the load and write-back protocols for one Room.
type Binder struct {
	docName           string
	adminURL          string
	admin             *adminclient.Client
	store             storage.KVStore
	doc               *crdtdoc.SharedDocument
	hooks             RoomHooks
	returnStackTraces bool

	once    sync.Once
	bindErr error

	mu             sync.Mutex
	etag           string
	lastHTML       string
	readOnlyResult bool

	writeBack *debouncer
}

// New constructs a Binder. It installs the two write-back observers
// immediately, so they catch every mutation from the moment the Room's
// Shared Document exists, including the Bind call's own seeding.
func New(docName, adminURL string, admin *adminclient.Client, store storage.KVStore, doc *crdtdoc.SharedDocument, hooks RoomHooks, returnStackTraces bool) *Binder {
	b := &Binder{
		docName:           docName,
		adminURL:          adminURL,
		admin:             admin,
		store:             store,
		doc:               doc,
		hooks:             hooks,
		returnStackTraces: returnStackTraces,
	}
	b.writeBack = newDebouncer(writeBackQuiet, writeBackMaxWait, b.flushWriteBack)
	doc.OnUpdate(b.onUpdate)
	return b
}

func (b *Binder) onUpdate(fullState []byte) {
	if b.hooks.StillOwner == nil || b.hooks.StillOwner() {
		b.mu.Lock()
		etag := b.etag
		b.mu.Unlock()
		if err := storage.Write(b.store, b.docName, fullState, etag); err != nil {
			b.doc.SetError("failed to persist document state", errStack(err), b.returnStackTraces)
		}
	}
	b.writeBack.Trigger()
}

// Bind runs the §4.4.1 load protocol exactly once for this Room's lifetime.
// Later callers block until the first call's result is known and receive
// the same (readOnly, err).
func (b *Binder) Bind(ctx context.Context, credential string) (readOnly bool, err error) {
	b.once.Do(func() {
		readOnly, b.bindErr = b.load(ctx, credential)
		b.mu.Lock()
		b.readOnlyResult = readOnly
		b.mu.Unlock()
	})
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readOnlyResult, b.bindErr
}

func (b *Binder) load(ctx context.Context, credential string) (readOnly bool, err error) {
	rec, hasStored, err := storage.Read(b.store, b.docName)
	if err != nil {
		return false, errors.Wrap(err, "persist: read durable record")
	}

	storedETag := ""
	if hasStored {
		storedETag = rec.ETag
	}

	res, err := b.admin.Get(ctx, b.adminURL, credential, storedETag)
	if err != nil {
		return false, errors.Wrap(err, "persist: admin GET failed")
	}

	if res.NotModified && hasStored {
		if err := b.doc.Replace(rec.State); err != nil {
			return false, errors.Wrap(err, "persist: restore stored state")
		}
		b.mu.Lock()
		b.etag = storedETag
		b.mu.Unlock()
		return false, nil
	}

	authoritativeHTML := string(res.Body)
	b.mu.Lock()
	b.etag = res.ETag
	b.lastHTML = authoritativeHTML
	b.mu.Unlock()
	readOnly = res.Actions.ReadOnly()

	restored := false
	if hasStored {
		if err := b.doc.Replace(rec.State); err != nil {
			return readOnly, errors.Wrap(err, "persist: restore stored state")
		}
		rebuiltHTML, err := b.renderCurrent()
		if err == nil && rebuiltHTML == authoritativeHTML {
			restored = true
		}
	}

	if !restored {
		time.AfterFunc(rebuildDelay, func() {
			if b.hooks.StillOwner != nil && !b.hooks.StillOwner() {
				return
			}
			if err := b.rebuildFrom(authoritativeHTML); err != nil {
				b.doc.SetError("failed to rebuild document from authoritative HTML", errStack(err), b.returnStackTraces)
			}
		})
	}

	return readOnly, nil
}

func (b *Binder) rebuildFrom(html string) error {
	tree, meta, err := htmltree.ToTree(html)
	if err != nil {
		return errors.Wrap(err, "persist: convert authoritative HTML")
	}
	treeJSON, err := crdtdoc.MarshalTreeJSON(tree)
	if err != nil {
		return err
	}
	return b.doc.ApplyConverted(treeJSON, meta)
}

func (b *Binder) renderCurrent() (string, error) {
	treeJSON, err := b.doc.Prosemirror()
	if err != nil {
		return "", err
	}
	meta, err := b.doc.Metadata()
	if err != nil {
		return "", err
	}
	var tree htmltree.Node
	if treeJSON != "" {
		if err := json.Unmarshal([]byte(treeJSON), &tree); err != nil {
			return "", errors.Wrap(err, "persist: unmarshal stored tree")
		}
	}
	return htmltree.FromTree(&tree, meta)
}

// flushWriteBack implements the §4.4.2 admin write-back observer.
func (b *Binder) flushWriteBack() {
	if b.hooks.StillOwner != nil && !b.hooks.StillOwner() {
		return
	}

	html, err := b.renderCurrent()
	if err != nil {
		b.doc.SetError("failed to render document for write-back", errStack(err), b.returnStackTraces)
		return
	}

	b.mu.Lock()
	unchanged := html == b.lastHTML
	b.mu.Unlock()
	if unchanged {
		return
	}

	var creds []string
	if b.hooks.NonReadOnlyCredentials != nil {
		creds = b.hooks.NonReadOnlyCredentials()
	}
	if len(creds) == 0 {
		return
	}

	res, err := b.admin.Put(context.Background(), b.adminURL, html, adminclient.MergeAuthorization(creds))
	if err != nil {
		b.doc.SetError("failed to write back document", errStack(err), b.returnStackTraces)
		return
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		b.mu.Lock()
		b.lastHTML = html
		b.mu.Unlock()
	case res.StatusCode == 401 || res.StatusCode == 403:
		if b.hooks.CloseAllConnections != nil {
			b.hooks.CloseAllConnections()
		}
	case res.StatusCode == 412:
		_ = b.store.DeleteAll(b.docName)
		b.doc.SetError("document was deleted or its ETag no longer matched", "", false)
		if b.hooks.CloseAllConnections != nil {
			b.hooks.CloseAllConnections()
		}
		if b.hooks.Deregister != nil {
			b.hooks.Deregister()
		}
	default:
		b.doc.SetError("admin write-back failed", "", false)
	}
}

func errStack(err error) string {
	return fmt.Sprintf("%+v", err)
}
