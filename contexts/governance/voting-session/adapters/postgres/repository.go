package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/governance/voting-session/domain/entities"
	domainerrors "agora/contexts/governance/voting-session/domain/errors"
	"agora/contexts/governance/voting-session/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// AutoMigrate creates or updates every table the repository owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&sessionModel{},
		&voterModel{},
		&proposalModel{},
		&idempotencyModel{},
		&outboxModel{},
		&eventDedupModel{},
	)
}

func (r *Repository) CreateSession(ctx context.Context, session entities.Session) error {
	row := sessionModelFromEntity(session)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrConflict
		}
		if err := saveVoters(tx, row.SessionID, nil, session.Voters); err != nil {
			return err
		}
		return saveProposals(tx, row.SessionID, nil, session.Proposals)
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrConflict) || isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("voting_repo_create_session_failed", err, "session_id", row.SessionID)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (entities.Session, error) {
	session, err := loadSession(r.db.WithContext(ctx), strings.TrimSpace(sessionID), false)
	if err != nil {
		if errors.Is(err, domainerrors.ErrSessionNotFound) {
			return entities.Session{}, err
		}
		return entities.Session{}, r.logError("voting_repo_get_session_failed", err, "session_id", strings.TrimSpace(sessionID))
	}
	return session, nil
}

// UpdateSession locks the session row for the length of the transaction, so
// concurrent commands against one poll apply one at a time. Only rows that
// changed are written back. The idempotency claim and the outbox rows are
// written in the same transaction.
func (r *Repository) UpdateSession(
	ctx context.Context,
	sessionID string,
	work ports.SessionWork,
) (entities.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	var committed entities.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := loadSession(tx, sessionID, true)
		if err != nil {
			return err
		}
		draft := before.Clone()
		changes, err := work(&draft)
		if err != nil {
			return err
		}
		if changes.Idempotency != nil {
			if err := claimIdempotency(tx, *changes.Idempotency); err != nil {
				return err
			}
		}

		if err := tx.Model(&sessionModel{}).
			Where("session_id = ?", sessionID).
			Updates(sessionUpdatesFromEntity(draft)).
			Error; err != nil {
			return err
		}
		if err := saveVoters(tx, sessionID, before.Voters, draft.Voters); err != nil {
			return err
		}
		if err := saveProposals(tx, sessionID, before.Proposals, draft.Proposals); err != nil {
			return err
		}
		if err := appendOutbox(tx, changes.Events); err != nil {
			return err
		}
		committed = draft
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return entities.Session{}, err
		}
		return entities.Session{}, r.logError("voting_repo_update_session_failed", err, "session_id", sessionID)
	}
	return committed, nil
}

func (r *Repository) GetRecord(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("voting_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	record := row.toRecord()
	if !record.Live(now) {
		if err := r.db.WithContext(ctx).
			Where("idempotency_key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("voting_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("sequence_no ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("voting_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("voting_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("voting_repo_reserve_event_failed", create.Error,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("voting_repo_reserve_event_load_existing_failed", err,
			"event_id", strings.TrimSpace(eventID),
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrConflict
	}
	return true, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "governance/voting-session",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("voting repository operation failed", fields...)
	return err
}

func loadSession(db *gorm.DB, sessionID string, forUpdate bool) (entities.Session, error) {
	query := db
	if forUpdate && db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row sessionModel
	if err := query.Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Session{}, domainerrors.ErrSessionNotFound
		}
		return entities.Session{}, err
	}

	var voters []voterModel
	if err := db.Where("session_id = ?", sessionID).Find(&voters).Error; err != nil {
		return entities.Session{}, err
	}
	var proposals []proposalModel
	if err := db.Where("session_id = ?", sessionID).
		Order("proposal_id ASC").
		Find(&proposals).Error; err != nil {
		return entities.Session{}, err
	}

	session := row.toEntity()
	for _, voter := range voters {
		session.Voters[voter.Identity] = voter.toEntity()
	}
	for _, proposal := range proposals {
		// Slots are dense; a gap would mean a partially written session.
		if proposal.ProposalID != len(session.Proposals) {
			return entities.Session{}, domainerrors.ErrConflict
		}
		session.Proposals = append(session.Proposals, proposal.toEntity())
	}
	return session, nil
}

func saveVoters(tx *gorm.DB, sessionID string, before map[string]entities.Voter, after map[string]entities.Voter) error {
	for identity := range before {
		if _, kept := after[identity]; kept {
			continue
		}
		if err := tx.Where("session_id = ? AND identity = ?", sessionID, identity).
			Delete(&voterModel{}).Error; err != nil {
			return err
		}
	}
	for identity, voter := range after {
		if previous, ok := before[identity]; ok && previous == voter {
			continue
		}
		row := voterModelFromEntity(sessionID, identity, voter)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "identity"}},
			DoUpdates: clause.Assignments(map[string]any{
				"is_registered":     row.IsRegistered,
				"has_voted":         row.HasVoted,
				"voted_proposal_id": row.VotedProposalID,
				"delegate":          row.Delegate,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func saveProposals(tx *gorm.DB, sessionID string, before []entities.Proposal, after []entities.Proposal) error {
	if len(after) < len(before) {
		return domainerrors.ErrConflict
	}
	for i, proposal := range after {
		if i < len(before) && before[i] == proposal {
			continue
		}
		row := proposalModelFromEntity(sessionID, i, proposal)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "proposal_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"description": row.Description,
				"vote_count":  row.VoteCount,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// claimIdempotency stores record unless a live record already holds its key.
// An expired holder is overwritten.
func claimIdempotency(tx *gorm.DB, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:             strings.TrimSpace(record.Key),
		RequestHash:     strings.TrimSpace(record.RequestHash),
		ResponsePayload: append([]byte(nil), record.ResponsePayload...),
		CreatedAt:       record.CreatedAt.UTC(),
		ExpiresAt:       record.ExpiresAt.UTC(),
	}
	create := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return create.Error
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := tx.Where("idempotency_key = ?", row.Key).First(&existing).Error; err != nil {
		return err
	}
	if existing.toRecord().Live(row.CreatedAt) {
		return domainerrors.ErrIdempotencyConflict
	}
	return tx.Model(&idempotencyModel{}).
		Where("idempotency_key = ?", row.Key).
		Updates(map[string]any{
			"request_hash":     row.RequestHash,
			"response_payload": row.ResponsePayload,
			"created_at":       row.CreatedAt,
			"expires_at":       row.ExpiresAt,
		}).Error
}

// appendOutbox writes envelopes after the highest sequence already stored,
// which keeps relay order equal to commit order. The session row lock
// serializes writers of one poll.
func appendOutbox(tx *gorm.DB, envelopes []ports.EventEnvelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	var last int64
	if err := tx.Model(&outboxModel{}).
		Select("COALESCE(MAX(sequence_no), 0)").
		Scan(&last).Error; err != nil {
		return err
	}

	for _, envelope := range envelopes {
		payload, err := json.Marshal(envelope)
		if err != nil {
			return err
		}
		last++
		row := outboxModel{
			OutboxID:     strings.TrimSpace(envelope.EventID),
			Sequence:     last,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			Status:       outboxStatusPending,
			CreatedAt:    envelope.OccurredAt.UTC(),
		}
		if row.OutboxID == "" {
			row.OutboxID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		create := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "outbox_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected > 0 {
			continue
		}

		var existing outboxModel
		if err := tx.Select("payload").
			Where("outbox_id = ?", row.OutboxID).
			First(&existing).Error; err != nil {
			return err
		}
		if !bytes.Equal(existing.Payload, row.Payload) {
			return domainerrors.ErrConflict
		}
	}
	return nil
}

type sessionModel struct {
	SessionID         string    `gorm:"column:session_id;primaryKey"`
	Admin             string    `gorm:"column:admin"`
	Phase             int       `gorm:"column:phase"`
	WinningProposalID *int      `gorm:"column:winning_proposal_id"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string {
	return "voting_sessions"
}

func sessionModelFromEntity(session entities.Session) sessionModel {
	row := sessionModel{
		SessionID:         strings.TrimSpace(session.SessionID),
		Admin:             strings.TrimSpace(session.Admin),
		Phase:             int(session.Phase),
		WinningProposalID: session.WinningProposalID,
		CreatedAt:         session.CreatedAt.UTC(),
		UpdatedAt:         session.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row
}

func sessionUpdatesFromEntity(session entities.Session) map[string]any {
	return map[string]any{
		"admin":               strings.TrimSpace(session.Admin),
		"phase":               int(session.Phase),
		"winning_proposal_id": session.WinningProposalID,
		"updated_at":          session.UpdatedAt.UTC(),
	}
}

func (m sessionModel) toEntity() entities.Session {
	session := entities.Session{
		SessionID: m.SessionID,
		Admin:     m.Admin,
		Phase:     entities.Phase(m.Phase),
		Voters:    make(map[string]entities.Voter),
		Proposals: []entities.Proposal{},
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.WinningProposalID != nil {
		winner := *m.WinningProposalID
		session.WinningProposalID = &winner
	}
	return session
}

type voterModel struct {
	SessionID       string `gorm:"column:session_id;primaryKey"`
	Identity        string `gorm:"column:identity;primaryKey"`
	IsRegistered    bool   `gorm:"column:is_registered"`
	HasVoted        bool   `gorm:"column:has_voted"`
	VotedProposalID int    `gorm:"column:voted_proposal_id"`
	Delegate        string `gorm:"column:delegate"`
}

func (voterModel) TableName() string {
	return "voting_session_voters"
}

func voterModelFromEntity(sessionID string, identity string, voter entities.Voter) voterModel {
	return voterModel{
		SessionID:       sessionID,
		Identity:        identity,
		IsRegistered:    voter.IsRegistered,
		HasVoted:        voter.HasVoted,
		VotedProposalID: voter.VotedProposalID,
		Delegate:        voter.Delegate,
	}
}

func (m voterModel) toEntity() entities.Voter {
	return entities.Voter{
		IsRegistered:    m.IsRegistered,
		HasVoted:        m.HasVoted,
		VotedProposalID: m.VotedProposalID,
		Delegate:        m.Delegate,
	}
}

type proposalModel struct {
	SessionID   string `gorm:"column:session_id;primaryKey"`
	ProposalID  int    `gorm:"column:proposal_id;primaryKey;autoIncrement:false"`
	Description string `gorm:"column:description"`
	VoteCount   uint64 `gorm:"column:vote_count"`
}

func (proposalModel) TableName() string {
	return "voting_session_proposals"
}

func proposalModelFromEntity(sessionID string, proposalID int, proposal entities.Proposal) proposalModel {
	return proposalModel{
		SessionID:   sessionID,
		ProposalID:  proposalID,
		Description: proposal.Description,
		VoteCount:   proposal.VoteCount,
	}
}

func (m proposalModel) toEntity() entities.Proposal {
	return entities.Proposal{
		Description: m.Description,
		VoteCount:   m.VoteCount,
	}
}

type idempotencyModel struct {
	Key             string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash     string    `gorm:"column:request_hash"`
	ResponsePayload []byte    `gorm:"column:response_payload"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "voting_session_idempotency"
}

func (m idempotencyModel) toRecord() ports.IdempotencyRecord {
	return ports.IdempotencyRecord{
		Key:             m.Key,
		RequestHash:     m.RequestHash,
		ResponsePayload: append([]byte(nil), m.ResponsePayload...),
		CreatedAt:       m.CreatedAt.UTC(),
		ExpiresAt:       m.ExpiresAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Sequence     int64      `gorm:"column:sequence_no;uniqueIndex"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "voting_session_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "voting_session_event_dedup"
}

// isDomainError reports whether err came from the session rules rather than
// the database, so it is returned without logging.
func isDomainError(err error) bool {
	for _, target := range []error{
		domainerrors.ErrUnauthorized,
		domainerrors.ErrInvalidPhase,
		domainerrors.ErrAlreadyRegistered,
		domainerrors.ErrNotRegistered,
		domainerrors.ErrAlreadyVoted,
		domainerrors.ErrInvalidProposal,
		domainerrors.ErrSelfDelegation,
		domainerrors.ErrDelegateNotRegistered,
		domainerrors.ErrNoProposals,
		domainerrors.ErrNotTalliedYet,
		domainerrors.ErrInvalidIdentity,
		domainerrors.ErrInvalidDescription,
		domainerrors.ErrSessionNotFound,
		domainerrors.ErrConflict,
		domainerrors.ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.SessionRepository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
