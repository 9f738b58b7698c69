package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	votingsession "agora/contexts/governance/voting-session"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	votinghttp "agora/contexts/governance/voting-session/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	_ "agora/internal/platform/httpserver/docs"
)

type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger
	addr    string
	voting  votingsession.Module
}

// New builds the API server. A nil rate limiter serves requests unthrottled.
func New(
	voting votingsession.Module,
	rateLimiter *limiter.Limiter,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		voting: voting,
	}
	s.registerRoutes()

	s.handler = s.mux
	if rateLimiter != nil {
		s.handler = stdlib.NewMiddleware(
			rateLimiter,
			stdlib.WithLimitReachedHandler(writeRateLimited),
		).Handler(s.mux)
	}
	return s
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled and then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server stopping",
		"event", "http_server_stopping",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /v1/session", s.handleGetSession)
	s.mux.HandleFunc("GET /v1/session/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /v1/session/owner", s.handleGetOwner)
	s.mux.HandleFunc("POST /v1/session/owner", s.handleTransferOwnership)
	s.mux.HandleFunc("POST /v1/session/proposals-registration/start", s.adminTransition(s.voting.Handler.StartProposalsRegistrationHandler))
	s.mux.HandleFunc("POST /v1/session/proposals-registration/end", s.adminTransition(s.voting.Handler.EndProposalsRegistrationHandler))
	s.mux.HandleFunc("POST /v1/session/voting/start", s.adminTransition(s.voting.Handler.StartVotingSessionHandler))
	s.mux.HandleFunc("POST /v1/session/voting/end", s.adminTransition(s.voting.Handler.EndVotingSessionHandler))
	s.mux.HandleFunc("POST /v1/session/tally", s.adminTransition(s.voting.Handler.TallyVotesHandler))
	s.mux.HandleFunc("GET /v1/session/winner", s.handleGetWinner)

	s.mux.HandleFunc("POST /v1/voters", s.handleRegisterVoter)
	s.mux.HandleFunc("GET /v1/voters/{identity}", s.handleGetVoter)
	s.mux.HandleFunc("DELETE /v1/voters/{identity}", s.handleRemoveVoter)

	s.mux.HandleFunc("POST /v1/proposals", s.handleRegisterProposal)
	s.mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	s.mux.HandleFunc("GET /v1/proposals/{proposal_id}", s.handleGetProposal)
	s.mux.HandleFunc("POST /v1/proposals/{proposal_id}/withdraw", s.handleWithdrawProposal)
	s.mux.HandleFunc("DELETE /v1/proposals/{proposal_id}", s.handleRemoveProposal)

	s.mux.HandleFunc("POST /v1/delegations", s.handleDelegateVote)
	s.mux.HandleFunc("POST /v1/votes", s.handleVote)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.SessionHandler(r.Context())
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.StatusHandler(r.Context())
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.OwnerHandler(r.Context())
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetWinner(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.WinnerHandler(r.Context())
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVoter(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.VoterHandler(r.Context(), r.PathValue("identity"))
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	resp, err := s.voting.Handler.ProposalsHandler(r.Context())
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.ProposalHandler(r.Context(), proposalID)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type adminCommandHandler func(ctx context.Context, callerID string, idempotencyKey string) (votinghttp.CommandResponse, error)

// adminTransition serves the body-less phase commands.
func (s *Server) adminTransition(handler adminCommandHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := requireCaller(w, r)
		if !ok {
			return
		}
		resp, err := handler(r.Context(), callerID, idempotencyKey(r))
		if err != nil {
			s.writeVotingDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.TransferOwnershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.TransferOwnershipHandler(r.Context(), callerID, idempotencyKey(r), req)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.RegisterVoterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.RegisterVoterHandler(r.Context(), callerID, idempotencyKey(r), req)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRemoveVoter(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.RemoveVoterHandler(r.Context(), callerID, idempotencyKey(r), r.PathValue("identity"))
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterProposal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.RegisterProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.RegisterProposalHandler(r.Context(), callerID, idempotencyKey(r), req)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.WithdrawProposalHandler(r.Context(), callerID, idempotencyKey(r), proposalID)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveProposal(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	proposalID, ok := parseProposalID(w, r)
	if !ok {
		return
	}
	resp, err := s.voting.Handler.RemoveProposalHandler(r.Context(), callerID, idempotencyKey(r), proposalID)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelegateVote(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.DelegateVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.DelegateVoteHandler(r.Context(), callerID, idempotencyKey(r), req)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req votinghttp.VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.voting.Handler.VoteHandler(r.Context(), callerID, idempotencyKey(r), req)
	if err != nil {
		s.writeVotingDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if callerID == "" {
		writeVotingError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return callerID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func parseProposalID(w http.ResponseWriter, r *http.Request) (int, bool) {
	proposalID, err := strconv.Atoi(r.PathValue("proposal_id"))
	if err != nil {
		writeVotingError(w, http.StatusBadRequest, "invalid_proposal_id", "proposal_id must be an integer")
		return 0, false
	}
	return proposalID, true
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func (s *Server) writeVotingDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrCallerRequired):
		writeVotingError(w, http.StatusUnauthorized, "missing_user", err.Error())
	case errors.Is(err, domainerrors.ErrUnauthorized):
		writeVotingError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, domainerrors.ErrNotRegistered):
		writeVotingError(w, http.StatusForbidden, "not_registered", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidPhase):
		writeVotingError(w, http.StatusConflict, "invalid_phase", err.Error())
	case errors.Is(err, domainerrors.ErrAlreadyRegistered):
		writeVotingError(w, http.StatusConflict, "already_registered", err.Error())
	case errors.Is(err, domainerrors.ErrAlreadyVoted):
		writeVotingError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, domainerrors.ErrNoProposals):
		writeVotingError(w, http.StatusConflict, "no_proposals", err.Error())
	case errors.Is(err, domainerrors.ErrNotTalliedYet):
		writeVotingError(w, http.StatusConflict, "not_tallied_yet", err.Error())
	case errors.Is(err, domainerrors.ErrIdempotencyConflict):
		writeVotingError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domainerrors.ErrConflict):
		writeVotingError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidProposal):
		writeVotingError(w, http.StatusUnprocessableEntity, "invalid_proposal", err.Error())
	case errors.Is(err, domainerrors.ErrSelfDelegation):
		writeVotingError(w, http.StatusUnprocessableEntity, "self_delegation", err.Error())
	case errors.Is(err, domainerrors.ErrDelegateNotRegistered):
		writeVotingError(w, http.StatusUnprocessableEntity, "delegate_not_registered", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidDescription):
		writeVotingError(w, http.StatusUnprocessableEntity, "invalid_description", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidIdentity):
		writeVotingError(w, http.StatusUnprocessableEntity, "invalid_identity", err.Error())
	case errors.Is(err, domainerrors.ErrSessionNotFound):
		writeVotingError(w, http.StatusNotFound, "session_not_found", err.Error())
	default:
		s.logger.Error("voting request failed",
			"event", "http_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeVotingError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeRateLimited(w http.ResponseWriter, _ *http.Request) {
	writeVotingError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func writeVotingError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, votinghttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
