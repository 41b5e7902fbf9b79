package service

import (
	"log/slog"
	"time"

	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/store"
	"github.com/porticoapi/portico/internal/telemetry"
)

// Settings tunes the components built by NewCore. Zero limits and a zero
// SessionTTL select the package defaults. A zero RefreshGrace disables
// refresh after expiry and a zero KeyTTL means keys never expire.
type Settings struct {
	SessionTTL    time.Duration
	RefreshGrace  time.Duration
	KeyTTL        time.Duration
	DefaultLimit  int
	MaxLimit      int
	InferInactive bool
	Clock         func() time.Time // nil uses time.Now
}

// Core holds the wired service components.
type Core struct {
	Credentials *CredentialStore
	Sessions    *SessionManager
	Auth        *Authenticator
	Access      *AccessEvaluator
	Identities  *IdentityService
	Records     *RecordService
}

// NewCore wires every service component over the system store and the
// record store.
func NewCore(st *store.Store, records recordstore.Store, set Settings, logger *slog.Logger, metrics *telemetry.Metrics) *Core {
	credOpts := []CredentialOption{WithKeyTTL(set.KeyTTL)}
	sessOpts := []SessionOption{WithTTL(set.SessionTTL), WithGrace(set.RefreshGrace), WithSessionMetrics(metrics)}
	if set.Clock != nil {
		credOpts = append(credOpts, WithKeyClock(set.Clock))
		sessOpts = append(sessOpts, WithClock(set.Clock))
	}

	creds := NewCredentialStore(st, logger, credOpts...)
	sessions := NewSessionManager(st, logger, sessOpts...)
	access := NewAccessEvaluator(records, set.InferInactive)
	identities := NewIdentityService(st, creds, sessions, access, logger)
	return &Core{
		Credentials: creds,
		Sessions:    sessions,
		Auth:        NewAuthenticator(st, creds, sessions, logger, metrics),
		Access:      access,
		Identities:  identities,
		Records:     NewRecordService(records, access, identities, logger, WithLimits(set.DefaultLimit, set.MaxLimit)),
	}
}
