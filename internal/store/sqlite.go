package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/referral-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection, so pin the pool to a single connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	external_id         TEXT NOT NULL UNIQUE,
	thread_id           TEXT NOT NULL DEFAULT '',
	sender              TEXT NOT NULL,
	subject             TEXT NOT NULL,
	body_ref            TEXT NOT NULL,
	attachment_refs     TEXT NOT NULL DEFAULT '[]',
	received_at         DATETIME NOT NULL,
	status              TEXT NOT NULL DEFAULT 'new',
	flagged             INTEGER NOT NULL DEFAULT 0,
	flag_reason         TEXT NOT NULL DEFAULT '',
	extraction_attempts INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL REFERENCES messages(id),
	attempt      INTEGER NOT NULL,
	fields       TEXT NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	extracted_at DATETIME NOT NULL,
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
	needs_review         INTEGER NOT NULL DEFAULT 0,
	rejection_reason     TEXT NOT NULL DEFAULT '',
	reply_ref            TEXT NOT NULL DEFAULT '',
	export_record_id     TEXT NOT NULL DEFAULT '',
	received_at          DATETIME NOT NULL,
	approved_at          DATETIME,
	submitted_at         DATETIME,
	completed_at         DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
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
	with_contrast  INTEGER,
	quantity       INTEGER NOT NULL DEFAULT 0,
	procedure_code TEXT NOT NULL DEFAULT '',
	icd10_code     TEXT NOT NULL DEFAULT '',
	confidence     INTEGER NOT NULL DEFAULT 0,
	source         TEXT NOT NULL DEFAULT 'extraction',
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (referral_id, line_no)
);

CREATE TABLE IF NOT EXISTS queues (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	sla_seconds INTEGER NOT NULL,
	sort_order  INTEGER NOT NULL DEFAULT 0,
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS queue_items (
	id           TEXT PRIMARY KEY,
	queue        TEXT NOT NULL REFERENCES queues(name),
	entity_kind  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	priority     TEXT NOT NULL DEFAULT 'medium',
	status       TEXT NOT NULL DEFAULT 'pending',
	claimed_by   TEXT NOT NULL DEFAULT '',
	claimed_at   DATETIME,
	enqueued_at  DATETIME NOT NULL,
	due_at       DATETIME NOT NULL,
	completed_at DATETIME,
	escalated    INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	field       TEXT NOT NULL DEFAULT '',
	old_value   TEXT NOT NULL DEFAULT '',
	new_value   TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingest_cursors (
	mailbox    TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Messages

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *model.Message) (bool, error) {
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
		return false, eris.Wrap(err, "sqlite: marshal attachment refs")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages
		 (id, external_id, thread_id, sender, subject, body_ref, attachment_refs, received_at, status, flagged, flag_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ExternalID, m.ThreadID, m.Sender, m.Subject, m.BodyRef, string(refsJSON),
		m.ReceivedAt.UTC(), string(m.Status), m.Flagged, m.FlagReason, now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert message")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const messageColumns = `id, external_id, thread_id, sender, subject, body_ref, attachment_refs, received_at, status,
	flagged, flag_reason, extraction_attempts, last_error, created_at, updated_at`

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row, id)
}

func (s *SQLiteStore) GetMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
	return scanMessage(row, externalID)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Flagged != nil {
		query += ` AND flagged = ?`
		args = append(args, *filter.Flagged)
	}
	query += ` ORDER BY received_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list messages")
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows, "")
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, eris.Wrap(rows.Err(), "sqlite: list messages iterate")
}

func (s *SQLiteStore) TransitionMessage(ctx context.Context, id string, from, to model.MessageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition message %s", id)
	}
	return s.checkCAS(ctx, res, "messages", id)
}

func (s *SQLiteStore) RecordExtractionFailure(ctx context.Context, id string, lastErr string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET extraction_attempts = extraction_attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: record extraction failure %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return 0, eris.Wrapf(ErrNotFound, "message %s", id)
	}

	var attempts int
	err = s.db.QueryRowContext(ctx,
		`SELECT extraction_attempts FROM messages WHERE id = ?`, id).Scan(&attempts)
	return attempts, eris.Wrap(err, "sqlite: read extraction attempts")
}

func (s *SQLiteStore) FlagMessage(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET flagged = 1, flag_reason = ?, updated_at = ? WHERE id = ?`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: flag message %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "message %s", id)
	}
	return nil
}

// Extraction results

func (s *SQLiteStore) InsertExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.ExtractedAt.IsZero() {
		r.ExtractedAt = time.Now().UTC()
	}

	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_results (id, message_id, attempt, fields, model, extracted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.MessageID, r.Attempt, string(fieldsJSON), r.Model, r.ExtractedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert extraction result for message %s", r.MessageID)
}

func (s *SQLiteStore) LatestExtractionResult(ctx context.Context, messageID string) (*model.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, attempt, fields, model, extracted_at FROM extraction_results
		 WHERE message_id = ? ORDER BY attempt DESC LIMIT 1`,
		messageID,
	)
	return scanExtractionResult(row, messageID)
}

func (s *SQLiteStore) ListExtractionResults(ctx context.Context, messageID string) ([]model.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, attempt, fields, model, extracted_at FROM extraction_results
		 WHERE message_id = ? ORDER BY attempt ASC`,
		messageID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extraction results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		r, err := scanExtractionResult(rows, messageID)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list extraction results iterate")
}

// Referrals

const referralColumnsSQL = `id, message_id, extraction_id, claim_number, claimant_first_name, claimant_last_name,
	carrier, adjuster_name, adjuster_email, adjuster_phone, date_of_birth, date_of_injury, jurisdiction_state,
	address_line_1, address_city, address_state, address_zip, employer, icd10_code, icd10_description,
	authorization_number, status, priority, needs_review, rejection_reason, reply_ref, export_record_id,
	received_at, approved_at, submitted_at, completed_at, created_at, updated_at`

func (s *SQLiteStore) CreateReferral(ctx context.Context, r *model.Referral) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO referrals (`+referralColumnsSQL+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MessageID, r.ExtractionID, r.ClaimNumber, r.ClaimantFirstName, r.ClaimantLastName,
		r.Carrier, r.AdjusterName, r.AdjusterEmail, r.AdjusterPhone, r.DateOfBirth, r.DateOfInjury,
		r.JurisdictionState, r.AddressLine1, r.AddressCity, r.AddressState, r.AddressZip, r.Employer,
		r.ICD10Code, r.ICD10Description, r.AuthorizationNo, string(r.Status), string(r.Priority),
		r.NeedsReview, r.RejectionReason, r.ReplyRef, r.ExportRecordID,
		r.ReceivedAt.UTC(), nullTime(r.ApprovedAt), nullTime(r.SubmittedAt), nullTime(r.CompletedAt), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert referral for message %s", r.MessageID)
}

func (s *SQLiteStore) GetReferral(ctx context.Context, id string) (*model.Referral, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals WHERE id = ?`, id)
	return scanReferral(row, id)
}

func (s *SQLiteStore) GetReferralByMessage(ctx context.Context, messageID string) (*model.Referral, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals WHERE message_id = ? ORDER BY created_at DESC LIMIT 1`,
		messageID)
	return scanReferral(row, messageID)
}

func (s *SQLiteStore) FindReferralsAwaitingReply(ctx context.Context, threadID string) ([]model.Referral, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+referralColumnsSQL+` FROM referrals
		 WHERE status = 'needs_info' AND message_id IN
		   (SELECT id FROM messages WHERE thread_id = ? OR external_id = ?)
		 ORDER BY created_at ASC`,
		threadID, threadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: referrals awaiting reply")
	}
	defer rows.Close()

	var referrals []model.Referral
	for rows.Next() {
		r, err := scanReferral(rows, "")
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *r)
	}
	return referrals, eris.Wrap(rows.Err(), "sqlite: referrals awaiting reply iterate")
}

func (s *SQLiteStore) ListReferrals(ctx context.Context, filter ReferralFilter) ([]model.Referral, error) {
	query := `SELECT ` + referralColumnsSQL + ` FROM referrals WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	if filter.NeedsReview != nil {
		query += ` AND needs_review = ?`
		args = append(args, *filter.NeedsReview)
	}
	if filter.ClaimNumber != "" {
		query += ` AND claim_number = ?`
		args = append(args, filter.ClaimNumber)
	}
	query += ` ORDER BY received_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list referrals")
	}
	defer rows.Close()

	var referrals []model.Referral
	for rows.Next() {
		r, err := scanReferral(rows, "")
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *r)
	}
	return referrals, eris.Wrap(rows.Err(), "sqlite: list referrals iterate")
}

func (s *SQLiteStore) TransitionReferral(ctx context.Context, id string, from, to model.ReferralStatus, update ReferralUpdate) error {
	query := `UPDATE referrals SET status = ?, updated_at = ?`
	args := []any{string(to), time.Now().UTC()}

	if update.RejectionReason != "" {
		query += `, rejection_reason = ?`
		args = append(args, update.RejectionReason)
	}
	if update.ReplyRef != "" {
		query += `, reply_ref = ?`
		args = append(args, update.ReplyRef)
	}
	if update.ExportRecordID != "" {
		query += `, export_record_id = ?`
		args = append(args, update.ExportRecordID)
	}
	if update.NeedsReview != nil {
		query += `, needs_review = ?`
		args = append(args, *update.NeedsReview)
	}
	if update.ApprovedAt != nil {
		query += `, approved_at = ?`
		args = append(args, update.ApprovedAt.UTC())
	}
	if update.SubmittedAt != nil {
		query += `, submitted_at = ?`
		args = append(args, update.SubmittedAt.UTC())
	}
	if update.CompletedAt != nil {
		query += `, completed_at = ?`
		args = append(args, update.CompletedAt.UTC())
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition referral %s", id)
	}
	return s.checkCAS(ctx, res, "referrals", id)
}

func (s *SQLiteStore) UpdateReferralField(ctx context.Context, id, field, value string) error {
	col, ok := ReferralColumn(field)
	if !ok {
		return eris.Errorf("sqlite: unknown referral field %q", field)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE referrals SET `+col+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update referral field %s", field)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "referral %s", id)
	}
	return nil
}

// Line items

const lineItemColumns = `id, referral_id, line_no, description, service_type, modality, body_region,
	laterality, with_contrast, quantity, procedure_code, icd10_code, confidence, source, status,
	created_at, updated_at`

func (s *SQLiteStore) InsertLineItems(ctx context.Context, items []model.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

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

		_, err := tx.ExecContext(ctx,
			`INSERT INTO line_items (`+lineItemColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			li.ID, li.ReferralID, li.LineNo, li.Description, li.ServiceType, string(li.Modality),
			li.BodyRegion, li.Laterality, nullBool(li.WithContrast), li.Quantity,
			li.ProcedureCode, li.ICD10Code, li.Confidence, li.Source, string(li.Status), now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert line item %d for referral %s", li.LineNo, li.ReferralID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit line items")
}

func (s *SQLiteStore) ListLineItems(ctx context.Context, referralID string) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE referral_id = ? ORDER BY line_no ASC`,
		referralID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list line items")
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *li)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list line items iterate")
}

func (s *SQLiteStore) UpdateLineItem(ctx context.Context, li *model.LineItem) error {
	li.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE line_items SET description = ?, service_type = ?, modality = ?, body_region = ?,
		 laterality = ?, with_contrast = ?, quantity = ?, procedure_code = ?, icd10_code = ?,
		 confidence = ?, source = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		li.Description, li.ServiceType, string(li.Modality), li.BodyRegion, li.Laterality,
		nullBool(li.WithContrast), li.Quantity, li.ProcedureCode, li.ICD10Code,
		li.Confidence, li.Source, string(li.Status), li.UpdatedAt, li.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update line item %s", li.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "line_item %s", li.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteLineItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete line item %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "line_item %s", id)
	}
	return nil
}

// Queues

func (s *SQLiteStore) SeedQueues(ctx context.Context, queues []model.Queue) error {
	for _, q := range queues {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO queues (name, description, sla_seconds, sort_order, active) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET description = excluded.description,
			   sla_seconds = excluded.sla_seconds, sort_order = excluded.sort_order, active = excluded.active`,
			q.Name, q.Description, int64(q.SLA.Seconds()), q.SortOrder, q.Active,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed queue %s", q.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) GetQueue(ctx context.Context, name string) (*model.Queue, error) {
	var q model.Queue
	var slaSeconds int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, sla_seconds, sort_order, active FROM queues WHERE name = ?`,
		name,
	).Scan(&q.Name, &q.Description, &slaSeconds, &q.SortOrder, &q.Active)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "queue %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get queue %s", name)
	}
	q.SLA = time.Duration(slaSeconds) * time.Second
	return &q, nil
}

func (s *SQLiteStore) ListQueues(ctx context.Context) ([]model.Queue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, sla_seconds, sort_order, active FROM queues ORDER BY sort_order ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queues")
	}
	defer rows.Close()

	var queues []model.Queue
	for rows.Next() {
		var q model.Queue
		var slaSeconds int64
		if err := rows.Scan(&q.Name, &q.Description, &slaSeconds, &q.SortOrder, &q.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue")
		}
		q.SLA = time.Duration(slaSeconds) * time.Second
		queues = append(queues, q)
	}
	return queues, eris.Wrap(rows.Err(), "sqlite: list queues iterate")
}

// Queue items

const queueItemColumns = `id, queue, entity_kind, entity_id, priority, status, claimed_by, claimed_at,
	enqueued_at, due_at, completed_at, escalated, attempts, last_error`

func (s *SQLiteStore) Enqueue(ctx context.Context, item *model.QueueItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.QueueItemPending
	}
	if item.Priority == "" {
		item.Priority = model.PriorityMedium
	}

	// The partial unique index on active (queue, entity) rows makes the
	// insert a no-op when the entity is already queued.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queue_items
		 (id, queue, entity_kind, entity_id, priority, status, enqueued_at, due_at, escalated, attempts, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '')`,
		item.ID, item.Queue, string(item.Entity.Kind), item.Entity.ID,
		string(item.Priority), string(item.Status), item.EnqueuedAt.UTC(), item.DueAt.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue %s to %s", item.Entity, item.Queue)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetQueueItem(ctx context.Context, id string) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE id = ?`, id)
	return scanQueueItem(row, id)
}

func (s *SQLiteStore) ListQueueItems(ctx context.Context, filter QueueItemFilter) ([]model.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE 1=1`
	var args []any

	if filter.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, filter.Queue)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Entity != nil {
		query += ` AND entity_kind = ? AND entity_id = ?`
		args = append(args, string(filter.Entity.Kind), filter.Entity.ID)
	}
	if filter.DueBefore != nil {
		query += ` AND due_at <= ?`
		args = append(args, filter.DueBefore.UTC())
	}
	query += ` ORDER BY due_at ASC, enqueued_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queue items")
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		qi, err := scanQueueItem(rows, "")
		if err != nil {
			return nil, err
		}
		items = append(items, *qi)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list queue items iterate")
}

func (s *SQLiteStore) FindActiveItem(ctx context.Context, queue string, entity model.EntityRef) (*model.QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items
		 WHERE queue = ? AND entity_kind = ? AND entity_id = ? AND status IN ('pending', 'claimed')`,
		queue, string(entity.Kind), entity.ID,
	)
	return scanQueueItem(row, entity.String())
}

func (s *SQLiteStore) ClaimItem(ctx context.Context, id, worker string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'claimed', claimed_by = ?, claimed_at = ? WHERE id = ? AND status = 'pending'`,
		worker, now.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: claim item %s", id)
	}
	return s.checkCAS(ctx, res, "queue_items", id)
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, queue, worker string, now time.Time) (*model.QueueItem, error) {
	// Candidates are ordered by priority then age; the claim itself is a
	// compare-and-set, so losing a race just moves on to the next row.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM queue_items WHERE queue = ? AND status = 'pending'
		 ORDER BY `+priorityRankSQL+`, enqueued_at ASC LIMIT 5`,
		queue,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim candidates for %s", queue)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan claim candidate")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim candidates iterate")
	}

	for _, id := range ids {
		err := s.ClaimItem(ctx, id, worker, now)
		if eris.Is(err, ErrStale) || eris.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.GetQueueItem(ctx, id)
	}
	return nil, eris.Wrapf(ErrNotFound, "no pending items in %s", queue)
}

func (s *SQLiteStore) ReleaseItem(ctx context.Context, id, worker, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'pending', claimed_by = '', claimed_at = NULL,
		 attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND status = 'claimed' AND claimed_by = ?`,
		lastErr, id, worker,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release item %s", id)
	}
	return s.checkCAS(ctx, res, "queue_items", id)
}

func (s *SQLiteStore) CompleteItem(ctx context.Context, id, worker string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'completed', completed_at = ?
		 WHERE id = ? AND (status = 'pending' OR (status = 'claimed' AND claimed_by = ?))`,
		now.UTC(), id, worker,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete item %s", id)
	}
	return s.checkCAS(ctx, res, "queue_items", id)
}

func (s *SQLiteStore) ExpireActive(ctx context.Context, entity model.EntityRef) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'expired', claimed_by = '', claimed_at = NULL
		 WHERE entity_kind = ? AND entity_id = ? AND status IN ('pending', 'claimed')`,
		string(entity.Kind), entity.ID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: expire active items for %s", entity)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ReleaseStaleClaims(ctx context.Context, now time.Time) ([]model.QueueItem, error) {
	items, err := s.ListQueueItems(ctx, QueueItemFilter{Status: model.QueueItemClaimed})
	if err != nil {
		return nil, err
	}

	var released []model.QueueItem
	for _, qi := range items {
		if qi.DueAt.After(now) {
			continue
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE queue_items SET status = 'pending', claimed_by = '', claimed_at = NULL,
			 attempts = attempts + 1, last_error = 'claim expired'
			 WHERE id = ? AND status = 'claimed' AND due_at <= ?`,
			qi.ID, now.UTC(),
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: release stale claim %s", qi.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			released = append(released, qi)
		}
	}
	return released, nil
}

func (s *SQLiteStore) EscalateOverdue(ctx context.Context, now time.Time) ([]model.QueueItem, error) {
	due := now.UTC()
	items, err := s.ListQueueItems(ctx, QueueItemFilter{Status: model.QueueItemPending, DueBefore: &due})
	if err != nil {
		return nil, err
	}

	var escalated []model.QueueItem
	for _, qi := range items {
		if qi.Escalated {
			continue
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE queue_items SET escalated = 1 WHERE id = ? AND status = 'pending' AND escalated = 0`,
			qi.ID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: escalate item %s", qi.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			qi.Escalated = true
			escalated = append(escalated, qi)
		}
	}
	return escalated, nil
}

func (s *SQLiteStore) QueueStats(ctx context.Context, now time.Time) ([]model.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.name,
		   COALESCE(SUM(CASE WHEN qi.status = 'pending' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN qi.status = 'claimed' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN qi.status IN ('pending', 'claimed') AND qi.due_at <= ? THEN 1 ELSE 0 END), 0)
		 FROM queues q
		 LEFT JOIN queue_items qi ON qi.queue = q.name
		 GROUP BY q.name
		 ORDER BY q.sort_order ASC`,
		now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue stats")
	}
	defer rows.Close()

	var stats []model.QueueStats
	for rows.Next() {
		var st model.QueueStats
		if err := rows.Scan(&st.Queue, &st.Pending, &st.Claimed, &st.Overdue); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue stats")
		}
		stats = append(stats, st)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: queue stats iterate")
}

// Audit log

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (entity_kind, entity_id, action, field, old_value, new_value, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Entity.Kind), e.Entity.ID, e.Action, e.Field, e.OldValue, e.NewValue, e.Actor, e.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append audit for %s", e.Entity)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: audit seq")
	}
	e.Seq = seq
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, entity model.EntityRef) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, entity_kind, entity_id, action, field, old_value, new_value, actor, created_at
		 FROM audit_log WHERE entity_kind = ? AND entity_id = ? ORDER BY seq ASC`,
		string(entity.Kind), entity.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var kind string
		if err := rows.Scan(&e.Seq, &kind, &e.Entity.ID, &e.Action, &e.Field, &e.OldValue, &e.NewValue, &e.Actor, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.Entity.Kind = model.EntityKind(kind)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// Ingest cursors

func (s *SQLiteStore) GetCursor(ctx context.Context, mailbox string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM ingest_cursors WHERE mailbox = ?`, mailbox).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cursor, eris.Wrapf(err, "sqlite: get cursor %s", mailbox)
}

func (s *SQLiteStore) SetCursor(ctx context.Context, mailbox, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_cursors (mailbox, cursor, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (mailbox) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		mailbox, cursor, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set cursor %s", mailbox)
}

// Reference data

func (s *SQLiteStore) SeedICD10(ctx context.Context, codes []model.ICD10Code) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	var n int64
	for _, c := range codes {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO icd10_codes (code, description, category, body_region) VALUES (?, ?, ?, ?)
			 ON CONFLICT (code) DO UPDATE SET description = excluded.description,
			   category = excluded.category, body_region = excluded.body_region`,
			c.Code, c.Description, c.Category, c.BodyRegion,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed icd10 %s", c.Code)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		n += rows
	}

	return n, eris.Wrap(tx.Commit(), "sqlite: commit icd10 seed")
}

// helpers

// checkCAS distinguishes a missing row from a lost compare-and-set race
// after a zero-row update.
func (s *SQLiteStore) checkCAS(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "%s %s", table, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check %s %s", table, id)
	}
	return eris.Wrapf(ErrStale, "%s %s", table, id)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable, ref string) (*model.Message, error) {
	var m model.Message
	var refsJSON string
	err := row.Scan(&m.ID, &m.ExternalID, &m.ThreadID, &m.Sender, &m.Subject, &m.BodyRef,
		&refsJSON, &m.ReceivedAt, &m.Status, &m.Flagged, &m.FlagReason, &m.ExtractionAttempts,
		&m.LastError, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "message %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan message")
	}
	if refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &m.AttachmentRefs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attachment refs")
		}
	}
	return &m, nil
}

func scanExtractionResult(row scannable, ref string) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var fieldsJSON string
	err := row.Scan(&r.ID, &r.MessageID, &r.Attempt, &fieldsJSON, &r.Model, &r.ExtractedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "extraction result for %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan extraction result")
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal extraction fields")
	}
	return &r, nil
}

func scanReferral(row scannable, ref string) (*model.Referral, error) {
	var r model.Referral
	var approvedAt, submittedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.MessageID, &r.ExtractionID, &r.ClaimNumber, &r.ClaimantFirstName,
		&r.ClaimantLastName, &r.Carrier, &r.AdjusterName, &r.AdjusterEmail, &r.AdjusterPhone,
		&r.DateOfBirth, &r.DateOfInjury, &r.JurisdictionState, &r.AddressLine1, &r.AddressCity,
		&r.AddressState, &r.AddressZip, &r.Employer, &r.ICD10Code, &r.ICD10Description,
		&r.AuthorizationNo, &r.Status, &r.Priority, &r.NeedsReview, &r.RejectionReason,
		&r.ReplyRef, &r.ExportRecordID, &r.ReceivedAt, &approvedAt, &submittedAt, &completedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "referral %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan referral")
	}

	if approvedAt.Valid {
		r.ApprovedAt = &approvedAt.Time
	}
	if submittedAt.Valid {
		r.SubmittedAt = &submittedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

func scanLineItem(row scannable) (*model.LineItem, error) {
	var li model.LineItem
	var withContrast sql.NullBool

	err := row.Scan(&li.ID, &li.ReferralID, &li.LineNo, &li.Description, &li.ServiceType,
		&li.Modality, &li.BodyRegion, &li.Laterality, &withContrast, &li.Quantity,
		&li.ProcedureCode, &li.ICD10Code, &li.Confidence, &li.Source, &li.Status,
		&li.CreatedAt, &li.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan line item")
	}
	if withContrast.Valid {
		li.WithContrast = &withContrast.Bool
	}
	return &li, nil
}

func scanQueueItem(row scannable, ref string) (*model.QueueItem, error) {
	var qi model.QueueItem
	var kind string
	var claimedAt, completedAt sql.NullTime

	err := row.Scan(&qi.ID, &qi.Queue, &kind, &qi.Entity.ID, &qi.Priority, &qi.Status,
		&qi.ClaimedBy, &claimedAt, &qi.EnqueuedAt, &qi.DueAt, &completedAt,
		&qi.Escalated, &qi.Attempts, &qi.LastError)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "queue item %s", ref)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan queue item")
	}

	qi.Entity.Kind = model.EntityKind(kind)
	if claimedAt.Valid {
		qi.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		qi.CompletedAt = &completedAt.Time
	}
	return &qi, nil
}
