package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/referral-engine/internal/db"
	"github.com/sells-group/referral-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_message":        `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`,
	"transition_message": `UPDATE messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
	"get_queue_item":     `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = $1`,
	"claim_item":         `UPDATE queue_items SET status = 'claimed', claimed_by = $1, claimed_at = $2 WHERE id = $3 AND status = 'pending'`,
	"append_audit": `INSERT INTO audit_log (entity_kind, entity_id, action, field, old_value, new_value, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used in tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	external_id         TEXT NOT NULL UNIQUE,
	thread_id           TEXT NOT NULL DEFAULT '',
	sender              TEXT NOT NULL,
	subject             TEXT NOT NULL,
	body_ref            TEXT NOT NULL,
	attachment_refs     JSONB NOT NULL DEFAULT '[]',
	received_at         TIMESTAMPTZ NOT NULL,
	status              TEXT NOT NULL DEFAULT 'new',
	flagged             BOOLEAN NOT NULL DEFAULT false,
	flag_reason         TEXT NOT NULL DEFAULT '',
	extraction_attempts INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL REFERENCES messages(id),
	attempt      INTEGER NOT NULL,
	fields       JSONB NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	extracted_at TIMESTAMPTZ NOT NULL,
	UNIQUE (message_id, attempt)
);

CREATE TABLE IF NOT EXISTS referrals (
	id                   TEXT PRIMARY KEY,
	message_id           TEXT NOT NULL REFERENCES messages(id),
	extraction_id        TEXT NOT NULL DEFAULT '',
	claim_number         TEXT NOT NULL DEFAULT '',
	claimant_first_name  TEXT NOT NULL DEFAULT '',
	claimant_last_name   TEXT NOT NULL DEFAULT '',
	carrier              TEXT NOT NULL DEFAULT '',
	adjuster_name        TEXT NOT NULL DEFAULT '',
	adjuster_email       TEXT NOT NULL DEFAULT '',
	adjuster_phone       TEXT NOT NULL DEFAULT '',
	date_of_birth        TEXT NOT NULL DEFAULT '',
	date_of_injury       TEXT NOT NULL DEFAULT '',
	jurisdiction_state   TEXT NOT NULL DEFAULT '',
	address_line_1       TEXT NOT NULL DEFAULT '',
	address_city         TEXT NOT NULL DEFAULT '',
	address_state        TEXT NOT NULL DEFAULT '',
	address_zip          TEXT NOT NULL DEFAULT '',
	employer             TEXT NOT NULL DEFAULT '',
	icd10_code           TEXT NOT NULL DEFAULT '',
	icd10_description    TEXT NOT NULL DEFAULT '',
	authorization_number TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'pending',
	priority             TEXT NOT NULL DEFAULT 'medium',
	needs_review         BOOLEAN NOT NULL DEFAULT false,
	rejection_reason     TEXT NOT NULL DEFAULT '',
	reply_ref            TEXT NOT NULL DEFAULT '',
	export_record_id     TEXT NOT NULL DEFAULT '',
	received_at          TIMESTAMPTZ NOT NULL,
	approved_at          TIMESTAMPTZ,
	submitted_at         TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS line_items (
	id             TEXT PRIMARY KEY,
	referral_id    TEXT NOT NULL REFERENCES referrals(id),
	line_no        INTEGER NOT NULL,
	description    TEXT NOT NULL,
	service_type   TEXT NOT NULL DEFAULT '',
	modality       TEXT NOT NULL DEFAULT '',
	body_region    TEXT NOT NULL DEFAULT '',
	laterality     TEXT NOT NULL DEFAULT '',
	with_contrast  BOOLEAN,
	quantity       INTEGER NOT NULL DEFAULT 0,
	procedure_code TEXT NOT NULL DEFAULT '',
	icd10_code     TEXT NOT NULL DEFAULT '',
	confidence     INTEGER NOT NULL DEFAULT 0,
	source         TEXT NOT NULL DEFAULT 'extraction',
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (referral_id, line_no)
);

CREATE TABLE IF NOT EXISTS queues (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	sla_seconds BIGINT NOT NULL,
	sort_order  INTEGER NOT NULL DEFAULT 0,
	active      BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS queue_items (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL REFERENCES queues(name),
	entity_kind  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	priority     TEXT NOT NULL DEFAULT 'medium',
	status       TEXT NOT NULL DEFAULT 'pending',
	claimed_by   TEXT NOT NULL DEFAULT '',
	claimed_at   TIMESTAMPTZ,
	enqueued_at  TIMESTAMPTZ NOT NULL,
	due_at       TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	escalated    BOOLEAN NOT NULL DEFAULT false,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
	seq         BIGSERIAL PRIMARY KEY,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	field       TEXT NOT NULL DEFAULT '',
	old_value   TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_cursors (
	mailbox    TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS icd10_codes (
	code        TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	body_region TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_extraction_results_message ON extraction_results(message_id, attempt DESC);
CREATE INDEX IF NOT EXISTS idx_referrals_status ON referrals(status);
CREATE INDEX IF NOT EXISTS idx_referrals_message ON referrals(message_id);
CREATE INDEX IF NOT EXISTS idx_line_items_referral ON line_items(referral_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_items_active
	ON queue_items(queue, entity_kind, entity_id)
	WHERE status IN ('pending', 'claimed');
CREATE INDEX IF NOT EXISTS idx_queue_items_claim ON queue_items(queue, status, enqueued_at);
CREATE INDEX IF NOT EXISTS idx_queue_items_due ON queue_items(status, due_at);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_kind, entity_id, seq);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Messages

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.MessageStatusNew
	}

	refsJSON, err := json.Marshal(m.AttachmentRefs)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal attachment refs")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO messages
		 (id, external_id, thread_id, sender, subject, body_ref, attachment_refs, received_at, status, flagged, flag_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (external_id) DO NOTHING`,
		m.ID, m.ExternalID, m.ThreadID, m.Sender, m.Subject, m.BodyRef, refsJSON,
		m.ReceivedAt.UTC(), string(m.Status), m.Flagged, m.FlagReason, now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert message")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessagePG(row, id)
}

func (s *PostgresStore) GetMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE external_id = $1`, externalID)
	return scanMessagePG(row, externalID)
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Flagged != nil {
		query += fmt.Sprintf(` AND flagged = $%d`, argIdx)
		args = append(args, *filter.Flagged)
		argIdx++
	}
	query += ` ORDER BY received_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessagePG(rows, "")
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "postgres: list messages iterate")
}

func (s *PostgresStore) TransitionMessage(ctx context.Context, id string, from, to model.MessageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition message %s", id)
	}
	return s.checkCAS(ctx, tag.RowsAffected(), "messages", id)
}

func (s *PostgresStore) RecordExtractionFailure(ctx context.Context, id string, lastErr string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE messages SET extraction_attempts = extraction_attempts + 1, last_error = $1, updated_at = $2
		 WHERE id = $3 RETURNING extraction_attempts`,
		lastErr, time.Now().UTC(), id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "message %s", id)
	}
	return attempts, eris.Wrapf(err, "postgres: record extraction failure %s", id)
}

func (s *PostgresStore) FlagMessage(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET flagged = true, flag_reason = $1, updated_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: flag message %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "message %s", id)
	}
	return nil
}

// Extraction results

func (s *PostgresStore) InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ExtractedAt.IsZero() {
		r.ExtractedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_results (id, message_id, attempt, fields, model, extracted_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.MessageID, r.Attempt, fieldsJSON, r.Model, r.ExtractedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert extraction result for message %s", r.MessageID)
}

func (s *PostgresStore) LatestExtractionResult(ctx context.Context, messageID string) (*model.ExtractionResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, message_id, attempt, fields, model, extracted_at FROM extraction_results
		 WHERE message_id = $1 ORDER BY attempt DESC LIMIT 1`,
		messageID,
	)
	return scanExtractionResultPG(row, messageID)
}

func (s *PostgresStore) ListExtractionResults(ctx context.Context, messageID string) ([]model.ExtractionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, attempt, fields, model, extracted_at FROM extraction_results
		 WHERE message_id = $1 ORDER BY attempt ASC`,
		messageID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extraction results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		r, err := scanExtractionResultPG(rows, messageID)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list extraction results iterate")
}

// Referrals

func (s *PostgresStore) CreateReferral(ctx context.Context, r *model.Referral) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = model.ReferralStatusPending
	}
	if r.Priority == "" {
		r.Priority = model.PriorityMedium
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO referrals (`+referralColumnsSQL+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		         $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)`,
		r.ID, r.MessageID, r.ExtractionID, r.ClaimNumber, r.ClaimantFirstName, r.ClaimantLastName,
		r.Carrier, r.AdjusterName, r.AdjusterEmail, r.AdjusterPhone, r.DateOfBirth, r.DateOfInjury,
		r.JurisdictionState, r.AddressLine1, r.AddressCity, r.AddressState, r.AddressZip, r.Employer,
		r.ICD10Code, r.ICD10Description, r.AuthorizationNo, string(r.Status), string(r.Priority),
		r.NeedsReview, r.RejectionReason, r.ReplyRef, r.ExportRecordID,
		r.ReceivedAt.UTC(), nullTime(r.ApprovedAt), nullTime(r.SubmittedAt), nullTime(r.CompletedAt), now, now,
	)
	return eris.Wrapf(err, "postgres: insert referral for message %s", r.MessageID)
}

func (s *PostgresStore) GetReferral(ctx context.Context, id string) (*model.Referral, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals WHERE id = $1`, id)
	return scanReferralPG(row, id)
}

func (s *PostgresStore) GetReferralByMessage(ctx context.Context, messageID string) (*model.Referral, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals WHERE message_id = $1 ORDER BY created_at DESC LIMIT 1`,
		messageID)
	return scanReferralPG(row, messageID)
}

func (s *PostgresStore) FindReferralsAwaitingReply(ctx context.Context, threadID string) ([]model.Referral, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals
		 WHERE status = 'needs_info' AND message_id IN
		   (SELECT id FROM messages WHERE thread_id = $1 OR external_id = $1)
		 ORDER BY created_at ASC`,
		threadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: referrals awaiting reply")
	}
	defer rows.Close()

	var referrals []model.Referral
	for rows.Next() {
		r, err := scanReferralPG(rows, "")
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *r)
	}
	return referrals, eris.Wrap(rows.Err(), "postgres: referrals awaiting reply iterate")
}

func (s *PostgresStore) ListReferrals(ctx context.Context, filter ReferralFilter) ([]model.Referral, error) {
	query := `SELECT ` + referralColumnsSQL + ` FROM referrals WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Priority != "" {
		query += fmt.Sprintf(` AND priority = $%d`, argIdx)
		args = append(args, string(filter.Priority))
		argIdx++
	}
	if filter.NeedsReview != nil {
		query += fmt.Sprintf(` AND needs_review = $%d`, argIdx)
		args = append(args, *filter.NeedsReview)
		argIdx++
	}
	if filter.ClaimNumber != "" {
		query += fmt.Sprintf(` AND claim_number = $%d`, argIdx)
		args = append(args, filter.ClaimNumber)
		argIdx++
	}
	query += ` ORDER BY received_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list referrals")
	}
	defer rows.Close()

	var referrals []model.Referral
	for rows.Next() {
		r, err := scanReferralPG(rows, "")
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *r)
	}
	return referrals, eris.Wrap(rows.Err(), "postgres: list referrals iterate")
}

func (s *PostgresStore) TransitionReferral(ctx context.Context, id string, from, to model.ReferralStatus, update ReferralUpdate) error {
	query := `UPDATE referrals SET status = $1, updated_at = $2`
	args := []any{string(to), time.Now().UTC()}
	argIdx := 3

	if update.RejectionReason != "" {
		query += fmt.Sprintf(`, rejection_reason = $%d`, argIdx)
		args = append(args, update.RejectionReason)
		argIdx++
	}
	if update.ReplyRef != "" {
		query += fmt.Sprintf(`, reply_ref = $%d`, argIdx)
		args = append(args, update.ReplyRef)
		argIdx++
	}
	if update.ExportRecordID != "" {
		query += fmt.Sprintf(`, export_record_id = $%d`, argIdx)
		args = append(args, update.ExportRecordID)
		argIdx++
	}
	if update.NeedsReview != nil {
		query += fmt.Sprintf(`, needs_review = $%d`, argIdx)
		args = append(args, *update.NeedsReview)
		argIdx++
	}
	if update.ApprovedAt != nil {
		query += fmt.Sprintf(`, approved_at = $%d`, argIdx)
		args = append(args, update.ApprovedAt.UTC())
		argIdx++
	}
	if update.SubmittedAt != nil {
		query += fmt.Sprintf(`, submitted_at = $%d`, argIdx)
		args = append(args, update.SubmittedAt.UTC())
		argIdx++
	}
	if update.CompletedAt != nil {
		query += fmt.Sprintf(`, completed_at = $%d`, argIdx)
		args = append(args, update.CompletedAt.UTC())
		argIdx++
	}

	query += fmt.Sprintf(` WHERE id = $%d AND status = $%d`, argIdx, argIdx+1)
	args = append(args, id, string(from))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition referral %s", id)
	}
	return s.checkCAS(ctx, tag.RowsAffected(), "referrals", id)
}

func (s *PostgresStore) UpdateReferralField(ctx context.Context, id, field, value string) error {
	col, ok := ReferralColumn(field)
	if !ok {
		return eris.Errorf("postgres: unknown referral field %q", field)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE referrals SET `+col+` = $1, updated_at = $2 WHERE id = $3`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update referral field %s", field)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "referral %s", id)
	}
	return nil
}

// Line items

func (s *PostgresStore) InsertLineItems(ctx context.Context, items []model.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range items {
		li := &items[i]
		if li.ID == "" {
			li.ID = uuid.New().String()
		}
		li.CreatedAt = now
		li.UpdatedAt = now
		if li.Status == "" {
			li.Status = model.LineItemStatusPending
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO line_items (`+lineItemColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			li.ID, li.ReferralID, li.LineNo, li.Description, li.ServiceType, string(li.Modality),
			li.BodyRegion, li.Laterality, nullBool(li.WithContrast), li.Quantity,
			li.ProcedureCode, li.ICD10Code, li.Confidence, li.Source, string(li.Status), now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert line item %d for referral %s", li.LineNo, li.ReferralID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit line items")
}

func (s *PostgresStore) ListLineItems(ctx context.Context, referralID string) ([]model.LineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE referral_id = $1 ORDER BY line_no ASC`,
		referralID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list line items")
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		li, err := scanLineItemPG(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *li)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list line items iterate")
}

func (s *PostgresStore) UpdateLineItem(ctx context.Context, li *model.LineItem) error {
	li.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE line_items SET description = $1, service_type = $2, modality = $3, body_region = $4,
		 laterality = $5, with_contrast = $6, quantity = $7, procedure_code = $8, icd10_code = $9,
		 confidence = $10, source = $11, status = $12, updated_at = $13
		 WHERE id = $14`,
		li.Description, li.ServiceType, string(li.Modality), li.BodyRegion, li.Laterality,
		nullBool(li.WithContrast), li.Quantity, li.ProcedureCode, li.ICD10Code,
		li.Confidence, li.Source, string(li.Status), li.UpdatedAt, li.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update line item %s", li.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "line_item %s", li.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteLineItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM line_items WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete line item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "line_item %s", id)
	}
	return nil
}

// Queues

func (s *PostgresStore) SeedQueues(ctx context.Context, queues []model.Queue) error {
	for _, q := range queues {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO queues (name, description, sla_seconds, sort_order, active) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description,
			   sla_seconds = EXCLUDED.sla_seconds, sort_order = EXCLUDED.sort_order, active = EXCLUDED.active`,
			q.Name, q.Description, int64(q.SLA.Seconds()), q.SortOrder, q.Active,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed queue %s", q.Name)
		}
	}
	return nil
}

func (s *PostgresStore) GetQueue(ctx context.Context, name string) (*model.Queue, error) {
	var q model.Queue
	var slaSeconds int64
	err := s.pool.QueryRow(ctx,
		`SELECT name, description, sla_seconds, sort_order, active FROM queues WHERE name = $1`,
		name,
	).Scan(&q.Name, &q.Description, &slaSeconds, &q.SortOrder, &q.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "queue %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get queue %s", name)
	}
	q.SLA = time.Duration(slaSeconds) * time.Second
	return &q, nil
}

func (s *PostgresStore) ListQueues(ctx context.Context) ([]model.Queue, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, description, sla_seconds, sort_order, active FROM queues ORDER BY sort_order ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queues")
	}
	defer rows.Close()

	var queues []model.Queue
	for rows.Next() {
		var q model.Queue
		var slaSeconds int64
		if err := rows.Scan(&q.Name, &q.Description, &slaSeconds, &q.SortOrder, &q.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue")
		}
		q.SLA = time.Duration(slaSeconds) * time.Second
		queues = append(queues, q)
	}
	return queues, eris.Wrap(rows.Err(), "postgres: list queues iterate")
}

// Queue items

func (s *PostgresStore) Enqueue(ctx context.Context, item *model.QueueItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.QueueItemPending
	}
	if item.Priority == "" {
		item.Priority = model.PriorityMedium
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO queue_items
		 (id, queue, entity_kind, entity_id, priority, status, enqueued_at, due_at, escalated, attempts, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, 0, '')
		 ON CONFLICT (queue, entity_kind, entity_id) WHERE status IN ('pending', 'claimed') DO NOTHING`,
		item.ID, item.Queue, string(item.Entity.Kind), item.Entity.ID,
		string(item.Priority), string(item.Status), item.EnqueuedAt.UTC(), item.DueAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue %s to %s", item.Entity, item.Queue)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)
	return scanQueueItemPG(row, id)
}

func (s *PostgresStore) ListQueueItems(ctx context.Context, filter QueueItemFilter) ([]model.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Queue != "" {
		query += fmt.Sprintf(` AND queue = $%d`, argIdx)
		args = append(args, filter.Queue)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Entity != nil {
		query += fmt.Sprintf(` AND entity_kind = $%d AND entity_id = $%d`, argIdx, argIdx+1)
		args = append(args, string(filter.Entity.Kind), filter.Entity.ID)
		argIdx += 2
	}
	if filter.DueBefore != nil {
		query += fmt.Sprintf(` AND due_at <= $%d`, argIdx)
		args = append(args, filter.DueBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY due_at ASC, enqueued_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queue items")
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		qi, err := scanQueueItemPG(rows, "")
		if err != nil {
			return nil, err
		}
		items = append(items, *qi)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list queue items iterate")
}

func (s *PostgresStore) FindActiveItem(ctx context.Context, queue string, entity model.EntityRef) (*model.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE queue = $1 AND entity_kind = $2 AND entity_id = $3 AND status IN ('pending', 'claimed')`,
		queue, string(entity.Kind), entity.ID,
	)
	return scanQueueItemPG(row, entity.String())
}

func (s *PostgresStore) ClaimItem(ctx context.Context, id, worker string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'claimed', claimed_by = $1, claimed_at = $2 WHERE id = $3 AND status = 'pending'`,
		worker, now.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: claim item %s", id)
	}
	return s.checkCAS(ctx, tag.RowsAffected(), "queue_items", id)
}

func (s *PostgresStore) ClaimNext(ctx context.Context, queue, worker string, now time.Time) (*model.QueueItem, error) {
	// FOR UPDATE SKIP LOCKED hands each worker a distinct candidate row
	// without blocking on concurrent claims.
	row := s.pool.QueryRow(ctx,
		`UPDATE queue_items SET status = 'claimed', claimed_by = $1, claimed_at = $2
		 WHERE id = (
		   SELECT id FROM queue_items WHERE queue = $3 AND status = 'pending'
		   ORDER BY `+priorityRankSQL+`, enqueued_at ASC
		   LIMIT 1 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueItemColumns,
		worker, now.UTC(), queue,
	)
	qi, err := scanQueueItemPG(row, queue)
	if eris.Is(err, ErrNotFound) {
		return nil, eris.Wrapf(ErrNotFound, "no pending items in %s", queue)
	}
	return qi, err
}

func (s *PostgresStore) ReleaseItem(ctx context.Context, id, worker, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'pending', claimed_by = '', claimed_at = NULL,
		 attempts = attempts + 1, last_error = $1
		 WHERE id = $2 AND status = 'claimed' AND claimed_by = $3`,
		lastErr, id, worker,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: release item %s", id)
	}
	return s.checkCAS(ctx, tag.RowsAffected(), "queue_items", id)
}

func (s *PostgresStore) CompleteItem(ctx context.Context, id, worker string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'completed', completed_at = $1
		 WHERE id = $2 AND (status = 'pending' OR (status = 'claimed' AND claimed_by = $3))`,
		now.UTC(), id, worker,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete item %s", id)
	}
	return s.checkCAS(ctx, tag.RowsAffected(), "queue_items", id)
}

func (s *PostgresStore) ExpireActive(ctx context.Context, entity model.EntityRef) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_items SET status = 'expired', claimed_by = '', claimed_at = NULL
		 WHERE entity_kind = $1 AND entity_id = $2 AND status IN ('pending', 'claimed')`,
		string(entity.Kind), entity.ID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: expire active items for %s", entity)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ReleaseStaleClaims(ctx context.Context, now time.Time) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE queue_items SET status = 'pending', claimed_by = '', claimed_at = NULL,
		 attempts = attempts + 1, last_error = 'claim expired'
		 WHERE status = 'claimed' AND due_at <= $1
		 RETURNING `+queueItemColumns,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: release stale claims")
	}
	defer rows.Close()

	var released []model.QueueItem
	for rows.Next() {
		qi, err := scanQueueItemPG(rows, "")
		if err != nil {
			return nil, err
		}
		released = append(released, *qi)
	}
	return released, eris.Wrap(rows.Err(), "postgres: release stale claims iterate")
}

func (s *PostgresStore) EscalateOverdue(ctx context.Context, now time.Time) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE queue_items SET escalated = true
		 WHERE status = 'pending' AND escalated = false AND due_at <= $1
		 RETURNING `+queueItemColumns,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: escalate overdue")
	}
	defer rows.Close()

	var escalated []model.QueueItem
	for rows.Next() {
		qi, err := scanQueueItemPG(rows, "")
		if err != nil {
			return nil, err
		}
		escalated = append(escalated, *qi)
	}
	return escalated, eris.Wrap(rows.Err(), "postgres: escalate overdue iterate")
}

func (s *PostgresStore) QueueStats(ctx context.Context, now time.Time) ([]model.QueueStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT q.name,
		   COALESCE(SUM(CASE WHEN qi.status = 'pending' THEN 1 ELSE 0 END), 0)::int,
		   COALESCE(SUM(CASE WHEN qi.status = 'claimed' THEN 1 ELSE 0 END), 0)::int,
		   COALESCE(SUM(CASE WHEN qi.status IN ('pending', 'claimed') AND qi.due_at <= $1 THEN 1 ELSE 0 END), 0)::int
		 FROM queues q
		 LEFT JOIN queue_items qi ON qi.queue = q.name
		 GROUP BY q.name, q.sort_order
		 ORDER BY q.sort_order ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	defer rows.Close()

	var stats []model.QueueStats
	for rows.Next() {
		var st model.QueueStats
		if err := rows.Scan(&st.Queue, &st.Pending, &st.Claimed, &st.Overdue); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue stats")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: queue stats iterate")
}

// Audit log

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO audit_log (entity_kind, entity_id, action, field, old_value, new_value, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		string(e.Entity.Kind), e.Entity.ID, e.Action, e.Field, e.OldValue, e.NewValue, e.Actor, e.CreatedAt.UTC(),
	).Scan(&e.Seq)
	return eris.Wrapf(err, "postgres: append audit for %s", e.Entity)
}

func (s *PostgresStore) ListAudit(ctx context.Context, entity model.EntityRef) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, entity_kind, entity_id, action, field, old_value, new_value, actor, created_at
		 FROM audit_log WHERE entity_kind = $1 AND entity_id = $2 ORDER BY seq ASC`,
		string(entity.Kind), entity.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var kind string
		if err := rows.Scan(&e.Seq, &kind, &e.Entity.ID, &e.Action, &e.Field, &e.OldValue, &e.NewValue, &e.Actor, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Entity.Kind = model.EntityKind(kind)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

// Ingest cursors

func (s *PostgresStore) GetCursor(ctx context.Context, mailbox string) (string, error) {
	var cursor string
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM ingest_cursors WHERE mailbox = $1`, mailbox).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return cursor, eris.Wrapf(err, "postgres: get cursor %s", mailbox)
}

func (s *PostgresStore) SetCursor(ctx context.Context, mailbox, cursor string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_cursors (mailbox, cursor, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (mailbox) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		mailbox, cursor, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set cursor %s", mailbox)
}

// Reference data

func (s *PostgresStore) SeedICD10(ctx context.Context, codes []model.ICD10Code) (int64, error) {
	rows := make([][]any, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, []any{c.Code, c.Description, c.Category, c.BodyRegion})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "icd10_codes",
		Columns:      []string{"code", "description", "category", "body_region"},
		ConflictKeys: []string{"code"},
	}, rows)
}

// helpers

func (s *PostgresStore) checkCAS(ctx context.Context, affected int64, table, id string) error {
	if affected > 0 {
		return nil
	}

	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", table, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check %s %s", table, id)
	}
	return eris.Wrapf(ErrStale, "%s %s", table, id)
}

func scanMessagePG(row pgx.Row, ref string) (*model.Message, error) {
	var m model.Message
	var refsJSON []byte
	err := row.Scan(&m.ID, &m.ExternalID, &m.ThreadID, &m.Sender, &m.Subject, &m.BodyRef,
		&refsJSON, &m.ReceivedAt, &m.Status, &m.Flagged, &m.FlagReason, &m.ExtractionAttempts,
		&m.LastError, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "message %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan message")
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &m.AttachmentRefs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attachment refs")
		}
	}
	return &m, nil
}

func scanExtractionResultPG(row pgx.Row, ref string) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var fieldsJSON []byte
	err := row.Scan(&r.ID, &r.MessageID, &r.Attempt, &fieldsJSON, &r.Model, &r.ExtractedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "extraction result for %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan extraction result")
	}
	if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal extraction fields")
	}
	return &r, nil
}

func scanReferralPG(row pgx.Row, ref string) (*model.Referral, error) {
	var r model.Referral

	err := row.Scan(&r.ID, &r.MessageID, &r.ExtractionID, &r.ClaimNumber, &r.ClaimantFirstName,
		&r.ClaimantLastName, &r.Carrier, &r.AdjusterName, &r.AdjusterEmail, &r.AdjusterPhone,
		&r.DateOfBirth, &r.DateOfInjury, &r.JurisdictionState, &r.AddressLine1, &r.AddressCity,
		&r.AddressState, &r.AddressZip, &r.Employer, &r.ICD10Code, &r.ICD10Description,
		&r.AuthorizationNo, &r.Status, &r.Priority, &r.NeedsReview, &r.RejectionReason,
		&r.ReplyRef, &r.ExportRecordID, &r.ReceivedAt, &r.ApprovedAt, &r.SubmittedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "referral %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan referral")
	}
	return &r, nil
}

func scanLineItemPG(row pgx.Row) (*model.LineItem, error) {
	var li model.LineItem
	err := row.Scan(&li.ID, &li.ReferralID, &li.LineNo, &li.Description, &li.ServiceType,
		&li.Modality, &li.BodyRegion, &li.Laterality, &li.WithContrast, &li.Quantity,
		&li.ProcedureCode, &li.ICD10Code, &li.Confidence, &li.Source, &li.Status,
		&li.CreatedAt, &li.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan line item")
	}
	return &li, nil
}

func scanQueueItemPG(row pgx.Row, ref string) (*model.QueueItem, error) {
	var qi model.QueueItem
	var kind string

	err := row.Scan(&qi.ID, &qi.Queue, &kind, &qi.Entity.ID, &qi.Priority, &qi.Status,
		&qi.ClaimedBy, &qi.ClaimedAt, &qi.EnqueuedAt, &qi.DueAt, &qi.CompletedAt,
		&qi.Escalated, &qi.Attempts, &qi.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "queue item %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan queue item")
	}

	qi.Entity.Kind = model.EntityKind(kind)
	return &qi, nil
}
