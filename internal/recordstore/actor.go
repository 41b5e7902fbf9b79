package recordstore

import "github.com/porticoapi/portico/internal/model"

// Actor is the identity a store call runs as. It is passed explicitly to
// every operation; there is no ambient "current user".
type Actor struct {
	IdentityID int64
	GroupIDs   []int64
	Admin      bool
	system     bool
}

// System returns the elevated actor for catalog-wide reads that are not made
// on behalf of an identity. It bypasses access rules.
func System() Actor {
	return Actor{system: true}
}

// ActorFor returns the actor for an authenticated identity.
func ActorFor(ident *model.Identity) Actor {
	return Actor{
		IdentityID: ident.ID,
		GroupIDs:   ident.GroupIDs(),
		Admin:      ident.IsAdmin(),
	}
}

// IsSystem reports whether the actor is the elevated system actor.
func (a Actor) IsSystem() bool { return a.system }

func (a Actor) unrestricted() bool { return a.system || a.Admin }
