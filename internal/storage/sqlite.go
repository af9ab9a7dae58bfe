package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"safetynotify/internal/delivery"
	"safetynotify/internal/escalate"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
	"safetynotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ---- deliveries ----

func (s *sqliteStore) CreateDelivery(ctx context.Context, rec *delivery.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	meta := ""
	if len(rec.Meta) > 0 {
		if b, err := json.Marshal(rec.Meta); err == nil {
			meta = string(b)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery(id, tenant, event_id, event_kind, recipient_id, channel, provider,
		                      provider_message_id, to_address, status, is_final, created_at,
		                      sent_at, delivered_at, read_at, failed_at, error_code, error_message, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Tenant, rec.EventID, string(rec.EventKind), rec.RecipientID, string(rec.Channel),
		rec.Provider, nullStr(rec.ProviderMessageID), rec.ToAddress, string(rec.Status),
		boolInt(rec.IsFinal), fmtTime(rec.CreatedAt),
		nullTime(rec.SentAt), nullTime(rec.DeliveredAt), nullTime(rec.ReadAt), nullTime(rec.FailedAt),
		nullStr(rec.ErrorCode), nullStr(rec.ErrorMessage), nullStr(meta),
	)
	return err
}

func (s *sqliteStore) HasSuccessfulDelivery(ctx context.Context, eventID, recipientID string, ch channel.Channel) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM delivery
		 WHERE event_id = ? AND recipient_id = ? AND channel = ?
		   AND status IN ('sent','delivered','read')`,
		eventID, recipientID, string(ch),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) AppendDeliveryEvent(ctx context.Context, providerMessageID string, raw delivery.WebhookEvent) error {
	if providerMessageID == "" {
		return ErrNotFound
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM delivery WHERE provider_message_id = ?`, providerMessageID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO delivery_webhook(delivery_id, provider, received_at, raw) VALUES(?,?,?,?)`,
		id, raw.Provider, fmtTime(raw.ReceivedAt), raw.Raw,
	)
	return err
}

func (s *sqliteStore) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, to delivery.Status, at time.Time, raw delivery.WebhookEvent) (bool, error) {
	if providerMessageID == "" {
		return false, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id     string
		status string
		dAt    sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, status, delivered_at FROM delivery WHERE provider_message_id = ?`,
		providerMessageID,
	).Scan(&id, &status, &dAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}

	// The raw event joins the audit trail even when the transition is a
	// replay; the trail is the compliance record of what arrived.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_webhook(delivery_id, provider, received_at, raw) VALUES(?,?,?,?)`,
		id, raw.Provider, fmtTime(raw.ReceivedAt), raw.Raw,
	); err != nil {
		return false, err
	}

	rec := delivery.Record{Status: delivery.Status(status), DeliveredAt: scanTime(dAt)}
	if !rec.Advance(to, at) {
		if err := tx.Commit(); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE delivery SET status = ?, is_final = ?,
		        sent_at = COALESCE(sent_at, ?),
		        delivered_at = COALESCE(delivered_at, ?),
		        read_at = COALESCE(read_at, ?),
		        failed_at = COALESCE(failed_at, ?)
		 WHERE id = ?`,
		string(rec.Status), boolInt(rec.IsFinal),
		nullTime(rec.SentAt), nullTime(rec.DeliveredAt), nullTime(rec.ReadAt), nullTime(rec.FailedAt),
		id,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

const deliveryColumns = `id, tenant, event_id, event_kind, recipient_id, channel, provider,
	provider_message_id, to_address, status, is_final, created_at,
	sent_at, delivered_at, read_at, failed_at, error_code, error_message, meta`

func (s *sqliteStore) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]delivery.Record, error) {
	return s.listDeliveries(ctx, `SELECT `+deliveryColumns+` FROM delivery WHERE event_id = ? ORDER BY created_at`, eventID)
}

func (s *sqliteStore) ListDeliveriesByRecipient(ctx context.Context, recipientID string) ([]delivery.Record, error) {
	return s.listDeliveries(ctx, `SELECT `+deliveryColumns+` FROM delivery WHERE recipient_id = ? ORDER BY created_at`, recipientID)
}

func (s *sqliteStore) listDeliveries(ctx context.Context, query string, arg any) ([]delivery.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Record
	for rows.Next() {
		var (
			rec                          delivery.Record
			kind, ch, status             string
			pmid, errCode, errMsg, meta  sql.NullString
			createdAt                    string
			sentAt, dAt, rAt, fAt        sql.NullString
			isFinal                      int
		)
		if err := rows.Scan(&rec.ID, &rec.Tenant, &rec.EventID, &kind, &rec.RecipientID, &ch,
			&rec.Provider, &pmid, &rec.ToAddress, &status, &isFinal, &createdAt,
			&sentAt, &dAt, &rAt, &fAt, &errCode, &errMsg, &meta); err != nil {
			return nil, err
		}
		rec.EventKind = parseKind(kind)
		rec.Channel = channel.Channel(ch)
		rec.Status = delivery.Status(status)
		rec.IsFinal = isFinal != 0
		rec.ProviderMessageID = pmid.String
		rec.ErrorCode = errCode.String
		rec.ErrorMessage = errMsg.String
		rec.CreatedAt = parseTime(createdAt)
		rec.SentAt = scanTime(sentAt)
		rec.DeliveredAt = scanTime(dAt)
		rec.ReadAt = scanTime(rAt)
		rec.FailedAt = scanTime(fAt)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &rec.Meta)
		}
		if whs, err := s.webhookEvents(ctx, rec.ID); err == nil {
			rec.Webhooks = whs
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) webhookEvents(ctx context.Context, deliveryID string) ([]delivery.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, received_at, raw FROM delivery_webhook WHERE delivery_id = ? ORDER BY id`,
		deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.WebhookEvent
	for rows.Next() {
		var (
			ev delivery.WebhookEvent
			at string
		)
		if err := rows.Scan(&ev.Provider, &at, &ev.Raw); err != nil {
			return nil, err
		}
		ev.ReceivedAt = parseTime(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendWebhookLog(ctx context.Context, entry delivery.WebhookLog) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_log(id, provider, content_type, body, received_at, processed, note)
		 VALUES(?,?,?,?,?,?,?)`,
		entry.ID, entry.Provider, entry.ContentType, entry.Body,
		fmtTime(entry.ReceivedAt), boolInt(entry.Processed), nullStr(entry.Note),
	)
	return err
}

// ---- obligations ----

func (s *sqliteStore) CreateObligation(ctx context.Context, ob escalate.Obligation) error {
	if ob.StartedAt.IsZero() {
		ob.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO obligation(id, tenant, kind, ref, site, assignee_id, severity,
		                        started_at, target_date, warning_sent_at, escalation_level)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		ob.ID, ob.Tenant, string(ob.Kind), ob.Ref, ob.Site, ob.AssigneeID, int(ob.Severity),
		fmtTime(ob.StartedAt), nullTime(ob.TargetDate), nullTime(ob.WarningSentAt), ob.EscalationLevel,
	)
	return err
}

func (s *sqliteStore) ListOpenObligations(ctx context.Context, kind escalate.ObligationKind) ([]escalate.Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, kind, ref, site, assignee_id, severity,
		        started_at, target_date, warning_sent_at, escalation_level
		 FROM obligation WHERE kind = ? AND closed_at IS NULL ORDER BY started_at`,
		string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []escalate.Obligation
	for rows.Next() {
		var (
			ob             escalate.Obligation
			k, startedAt   string
			severity       int
			target, warned sql.NullString
		)
		if err := rows.Scan(&ob.ID, &ob.Tenant, &k, &ob.Ref, &ob.Site, &ob.AssigneeID,
			&severity, &startedAt, &target, &warned, &ob.EscalationLevel); err != nil {
			return nil, err
		}
		ob.Kind = escalate.ObligationKind(k)
		ob.Severity = eventSeverity(severity)
		ob.StartedAt = parseTime(startedAt)
		ob.TargetDate = scanTime(target)
		ob.WarningSentAt = scanTime(warned)
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CloseObligation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE obligation SET closed_at = ? WHERE id = ? AND closed_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) SetObligationTarget(ctx context.Context, id string, target time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE obligation SET target_date = ? WHERE id = ? AND target_date IS NULL`,
		fmtTime(target), id)
	return err
}

func (s *sqliteStore) MarkWarningSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE obligation SET warning_sent_at = ? WHERE id = ? AND warning_sent_at IS NULL`,
		fmtTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) AdvanceEscalation(ctx context.Context, id string, from, to int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE obligation SET escalation_level = ? WHERE id = ? AND escalation_level = ?`,
		to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- scan helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func scanTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return parseTime(v.String)
}

func parseKind(s string) event.Kind { return event.Kind(s) }

func eventSeverity(n int) event.Severity { return event.Severity(n) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
