package votingsession

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/governance/voting-session/adapters/http"
	"agora/contexts/governance/voting-session/adapters/memory"
	"agora/contexts/governance/voting-session/adapters/validation"
	"agora/contexts/governance/voting-session/application/commands"
	"agora/contexts/governance/voting-session/application/queries"
	"agora/contexts/governance/voting-session/domain/entities"
	"agora/contexts/governance/voting-session/ports"
)

const DefaultSessionID = "default"

type Module struct {
	Handler httpadapter.Handler
	Session commands.SessionUseCase
	Queries queries.SessionQueries
	Store   *memory.Store
}

type Dependencies struct {
	Sessions       ports.SessionRepository
	Idempotency    ports.IdempotencyStore
	Validator      ports.ProposalValidator
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	SessionID      string
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	sessionID := deps.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	validator := deps.Validator
	if validator == nil {
		validator = validation.TextValidator{}
	}
	sessionUseCase := commands.SessionUseCase{
		Sessions:       deps.Sessions,
		Idempotency:    deps.Idempotency,
		Validator:      validator,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		SessionID:      sessionID,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	sessionQueries := queries.SessionQueries{
		Sessions:  deps.Sessions,
		SessionID: sessionID,
	}
	return Module{
		Handler: httpadapter.Handler{
			Session: sessionUseCase,
			Queries: sessionQueries,
			Logger:  deps.Logger,
		},
		Session: sessionUseCase,
		Queries: sessionQueries,
	}
}

// NewInMemoryModule wires the module on the in-process store. The seed
// sessions are copied into the store as they are.
func NewInMemoryModule(seed []entities.Session, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Sessions:       store,
		Idempotency:    store,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
