package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/davidahmann/relia-bot/internal/ledger"
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) PutSession(rec ledger.SessionRecord) error {
	if !json.Valid(rec.BodyJSON) {
		return fmt.Errorf("invalid session body_json")
	}
	_, err := s.db.Exec(`INSERT INTO relia_bot_sessions(identity, context, body_json, created_at, last_activity_at)
VALUES($1,$2,$3::jsonb,$4,$5)
ON CONFLICT(identity) DO UPDATE SET
  context=excluded.context,
  body_json=excluded.body_json,
  created_at=excluded.created_at,
  last_activity_at=excluded.last_activity_at`,
		rec.Identity, rec.Context, string(rec.BodyJSON), rec.CreatedAt, rec.LastActivityAt,
	)
	return err
}

func (s *Store) GetSession(identity string) (ledger.SessionRecord, bool, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM relia_bot_sessions WHERE identity = $1`, identity)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SessionRecord{}, false, nil
	}
	if err != nil {
		return ledger.SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) DeleteSession(identity string) error {
	_, err := s.db.Exec(`DELETE FROM relia_bot_sessions WHERE identity = $1`, identity)
	return err
}

func (s *Store) ListSessionsActiveSince(since string) ([]ledger.SessionRecord, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM relia_bot_sessions WHERE last_activity_at >= $1 ORDER BY last_activity_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) PutRequest(rec ledger.RequestRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutRequest(rec) })
}

func (s *Store) GetRequest(requestID string) (ledger.RequestRecord, bool, error) {
	return getRequest(s.db.QueryRow(`SELECT `+requestColumns+` FROM relia_bot_requests WHERE request_id = $1`, requestID))
}

func (s *Store) ListRequests(status string, limit int) ([]ledger.RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(`SELECT `+requestColumns+` FROM relia_bot_requests ORDER BY created_at DESC, request_id DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.Query(`SELECT `+requestColumns+` FROM relia_bot_requests WHERE status = $1::relia_bot_request_status ORDER BY created_at DESC, request_id DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.RequestRecord{}
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RequestStats() (ledger.RequestStats, error) {
	rows, err := s.db.Query(`SELECT status::text, COUNT(*), COALESCE(SUM(final_quantity), 0) FROM relia_bot_requests GROUP BY status`)
	if err != nil {
		return ledger.RequestStats{}, err
	}
	defer rows.Close()

	stats := ledger.RequestStats{Counts: make(map[string]int)}
	for rows.Next() {
		var (
			status string
			count  int
			sum    float64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return ledger.RequestStats{}, err
		}
		stats.Counts[status] = count
		if status == ledger.RequestApproved || status == ledger.RequestModified {
			stats.ApprovedQuantity += sum
		}
	}
	return stats, rows.Err()
}

func (s *Store) PutWorkItem(rec ledger.WorkItemRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutWorkItem(rec) })
}

func (s *Store) GetWorkItem(workItemID string) (ledger.WorkItemRecord, bool, error) {
	return getWorkItem(s.db.QueryRow(`SELECT `+workItemColumns+` FROM relia_bot_work_items WHERE work_item_id = $1`, workItemID))
}

func (s *Store) PutNotice(rec ledger.NoticeRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutNotice(rec) })
}

func (s *Store) GetNotice(noticeID string) (ledger.NoticeRecord, bool, error) {
	rec, err := scanNotice(s.db.QueryRow(`SELECT `+noticeColumns+` FROM relia_bot_decision_notices WHERE notice_id = $1`, noticeID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NoticeRecord{}, false, nil
	}
	if err != nil {
		return ledger.NoticeRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListNoticesDue(now string, limit int) ([]ledger.NoticeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+noticeColumns+`
FROM relia_bot_decision_notices
WHERE status = 'pending' AND next_attempt_at <= $1
ORDER BY created_at ASC
LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.NoticeRecord{}
	for rows.Next() {
		rec, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) PutRequest(rec ledger.RequestRecord) error {
	if rec.RequestID == "" {
		return fmt.Errorf("missing request_id")
	}
	_, err := t.tx.Exec(`INSERT INTO relia_bot_requests(request_id, work_item_id, status, requested_quantity, final_quantity, requested_by, requested_by_name, subject, subject_label, decided_by, decided_by_name, decided_at, rejection_reason, created_at, updated_at)
VALUES($1,$2,$3::relia_bot_request_status,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT(request_id) DO UPDATE SET
  status=excluded.status,
  final_quantity=excluded.final_quantity,
  decided_by=excluded.decided_by,
  decided_by_name=excluded.decided_by_name,
  decided_at=excluded.decided_at,
  rejection_reason=excluded.rejection_reason,
  updated_at=excluded.updated_at`,
		rec.RequestID,
		rec.WorkItemID,
		rec.Status,
		rec.RequestedQuantity,
		rec.FinalQuantity,
		rec.RequestedBy,
		rec.RequestedByName,
		rec.Subject,
		rec.SubjectLabel,
		rec.DecidedBy,
		rec.DecidedByName,
		rec.DecidedAt,
		rec.RejectionReason,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (t *Tx) GetRequest(requestID string) (ledger.RequestRecord, bool, error) {
	return getRequest(t.tx.QueryRow(`SELECT `+requestColumns+` FROM relia_bot_requests WHERE request_id = $1 FOR UPDATE`, requestID))
}

func (t *Tx) TransitionRequest(tr ledger.RequestTransition) error {
	res, err := t.tx.Exec(`UPDATE relia_bot_requests SET
  status = $1::relia_bot_request_status,
  final_quantity = $2,
  decided_by = $3,
  decided_by_name = $4,
  decided_at = $5,
  rejection_reason = $6,
  updated_at = $5
WHERE request_id = $7 AND status = 'pending'`,
		tr.Status, tr.FinalQuantity, tr.DecidedBy, tr.DecidedByName, tr.DecidedAt, tr.RejectionReason, tr.RequestID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrStatusConflict
	}
	return nil
}

func (t *Tx) PutWorkItem(rec ledger.WorkItemRecord) error {
	_, err := t.tx.Exec(`INSERT INTO relia_bot_work_items(work_item_id, request_id, status, title, approved_quantity, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT(work_item_id) DO UPDATE SET
  status=excluded.status,
  title=excluded.title,
  approved_quantity=excluded.approved_quantity,
  updated_at=excluded.updated_at`,
		rec.WorkItemID, rec.RequestID, rec.Status, rec.Title, rec.ApprovedQuantity, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (t *Tx) GetWorkItem(workItemID string) (ledger.WorkItemRecord, bool, error) {
	return getWorkItem(t.tx.QueryRow(`SELECT `+workItemColumns+` FROM relia_bot_work_items WHERE work_item_id = $1`, workItemID))
}

func (t *Tx) DeleteWorkItem(workItemID string) error {
	_, err := t.tx.Exec(`DELETE FROM relia_bot_work_items WHERE work_item_id = $1`, workItemID)
	return err
}

func (t *Tx) PutNotice(rec ledger.NoticeRecord) error {
	_, err := t.tx.Exec(`INSERT INTO relia_bot_decision_notices(notice_id, recipient, message, request_id, work_item_id, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT(notice_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.NoticeID,
		rec.To,
		rec.Message,
		rec.RequestID,
		rec.WorkItemID,
		rec.Status,
		rec.AttemptCount,
		rec.NextAttemptAt,
		rec.LastError,
		rec.SentAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

const sessionColumns = `identity, context, body_json::text, created_at, last_activity_at`

const requestColumns = `request_id, work_item_id, status::text, requested_quantity, final_quantity, requested_by, requested_by_name, subject, subject_label, decided_by, decided_by_name, decided_at, rejection_reason, created_at, updated_at`

const workItemColumns = `work_item_id, request_id, status, title, approved_quantity, created_at, updated_at`

const noticeColumns = `notice_id, recipient, message, request_id, work_item_id, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (ledger.SessionRecord, error) {
	var rec ledger.SessionRecord
	var body string
	if err := row.Scan(&rec.Identity, &rec.Context, &body, &rec.CreatedAt, &rec.LastActivityAt); err != nil {
		return ledger.SessionRecord{}, err
	}
	rec.BodyJSON = []byte(body)
	return rec, nil
}

func scanRequest(row scanner) (ledger.RequestRecord, error) {
	var rec ledger.RequestRecord
	err := row.Scan(
		&rec.RequestID,
		&rec.WorkItemID,
		&rec.Status,
		&rec.RequestedQuantity,
		&rec.FinalQuantity,
		&rec.RequestedBy,
		&rec.RequestedByName,
		&rec.Subject,
		&rec.SubjectLabel,
		&rec.DecidedBy,
		&rec.DecidedByName,
		&rec.DecidedAt,
		&rec.RejectionReason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func getRequest(row *sql.Row) (ledger.RequestRecord, bool, error) {
	rec, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RequestRecord{}, false, nil
	}
	if err != nil {
		return ledger.RequestRecord{}, false, err
	}
	return rec, true, nil
}

func getWorkItem(row *sql.Row) (ledger.WorkItemRecord, bool, error) {
	var rec ledger.WorkItemRecord
	err := row.Scan(&rec.WorkItemID, &rec.RequestID, &rec.Status, &rec.Title, &rec.ApprovedQuantity, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.WorkItemRecord{}, false, nil
	}
	if err != nil {
		return ledger.WorkItemRecord{}, false, err
	}
	return rec, true, nil
}

func scanNotice(row scanner) (ledger.NoticeRecord, error) {
	var rec ledger.NoticeRecord
	err := row.Scan(
		&rec.NoticeID,
		&rec.To,
		&rec.Message,
		&rec.RequestID,
		&rec.WorkItemID,
		&rec.Status,
		&rec.AttemptCount,
		&rec.NextAttemptAt,
		&rec.LastError,
		&rec.SentAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
