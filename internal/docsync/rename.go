package docsync

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentworkforce/fieldsync/internal/document"
	"github.com/agentworkforce/fieldsync/internal/localstate"
)

// Renamer cascades a member rename across the whole document and the session
// identity, then persists everything with a single save.
type Renamer struct {
	store      *Store
	state      *State
	identities *localstate.IdentityStore
	writeMu    locker
	log        *zap.SugaredLogger
}

type locker interface {
	Lock()
	Unlock()
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

func NewRenamer(store *Store, state *State, identities *localstate.IdentityStore, log *zap.SugaredLogger) *Renamer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Renamer{store: store, state: state, identities: identities, writeMu: noopLocker{}, log: log}
}

// Rename reports whether a write was attempted and, if so, whether it
// succeeded. An empty or unchanged new name is a no-op.
func (r *Renamer) Rename(ctx context.Context, role document.Role, oldName, newName string) (attempted, saved bool) {
	newName = document.NormalizeName(newName)
	if newName == "" || newName == oldName {
		return false, false
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	doc := r.state.Document()
	changed := document.RenameMember(&doc, role, oldName, newName)

	identity := r.state.Identity()
	renamedSelf := identity != nil && identity.Name == oldName && identity.Role == role
	if renamedSelf {
		identity.Name = newName
		r.state.SetIdentity(identity)
		r.rememberRenamed(ctx, oldName, *identity)
	}

	r.state.Replace(doc, "")
	saved = r.store.Save(ctx, doc, r.state.BinID())
	r.log.Infow("renamed member", "role", role, "from", oldName, "to", newName, "records", changed, "self", renamedSelf, "saved", saved)
	return true, saved
}

// rememberRenamed updates the remembered identity only when one exists for
// the old name; users who did not opt in stay unremembered.
func (r *Renamer) rememberRenamed(ctx context.Context, oldName string, identity document.Identity) {
	if r.identities == nil {
		return
	}
	remembered, ok, err := r.identities.Recall(ctx)
	if err != nil || !ok || remembered.Name != oldName {
		return
	}
	if err := r.identities.Remember(ctx, identity); err != nil {
		r.log.Warnw("update remembered session failed", "error", err)
	}
}
