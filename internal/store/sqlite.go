package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/resilience"
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
CREATE TABLE IF NOT EXISTS policies (
	id           TEXT PRIMARY KEY,
	product_code TEXT NOT NULL,
	product_name TEXT NOT NULL,
	product_type TEXT,
	version      TEXT,
	document_ref TEXT NOT NULL,
	source_url   TEXT,
	status       TEXT NOT NULL DEFAULT 'collected',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS coverage_items (
	policy_id        TEXT NOT NULL REFERENCES policies(id),
	position         INTEGER NOT NULL,
	benefit_code     TEXT,
	benefit_name     TEXT NOT NULL,
	sub_benefit_code TEXT,
	template_code    TEXT,
	template_name    TEXT NOT NULL,
	PRIMARY KEY (policy_id, position)
);

CREATE TABLE IF NOT EXISTS results (
	id             TEXT PRIMARY KEY,
	policy_id      TEXT NOT NULL REFERENCES policies(id),
	run_id         TEXT,
	item           TEXT NOT NULL,
	attribute      TEXT NOT NULL,
	raw_value      TEXT NOT NULL DEFAULT '',
	canonical_code TEXT,
	confidence     REAL NOT NULL DEFAULT 0,
	tier           TEXT NOT NULL,
	provenance     TEXT NOT NULL,
	verification   TEXT NOT NULL DEFAULT 'pending',
	exported       INTEGER NOT NULL DEFAULT 0,
	exported_at    DATETIME,
	extracted_at   DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	id              TEXT PRIMARY KEY,
	result_id       TEXT NOT NULL UNIQUE REFERENCES results(id),
	status          TEXT NOT NULL DEFAULT 'pending',
	original_value  TEXT NOT NULL DEFAULT '',
	corrected_value TEXT,
	reviewer        TEXT,
	comment         TEXT,
	created_at      DATETIME NOT NULL,
	decided_at      DATETIME
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	options      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT,
	progress     REAL NOT NULL DEFAULT 0,
	stats        TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_logs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  TEXT NOT NULL REFERENCES runs(id),
	at      DATETIME NOT NULL,
	stage   TEXT,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfer_logs (
	id              TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	file_size       INTEGER NOT NULL DEFAULT 0,
	checksum_sha256 TEXT NOT NULL DEFAULT '',
	direction       TEXT NOT NULL DEFAULT 'outbound',
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	transferred_at  DATETIME,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	details     TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);
CREATE INDEX IF NOT EXISTS idx_results_policy ON results(policy_id);
CREATE INDEX IF NOT EXISTS idx_results_verification ON results(verification);
CREATE INDEX IF NOT EXISTS idx_results_exported ON results(exported);
CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Policies

func (s *SQLiteStore) UpsertPolicy(ctx context.Context, p *model.Policy) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.PolicyStatusCollected
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			product_code = excluded.product_code,
			product_name = excluded.product_name,
			product_type = excluded.product_type,
			version      = excluded.version,
			document_ref = excluded.document_ref,
			source_url   = excluded.source_url,
			updated_at   = excluded.updated_at`,
		p.ID, p.ProductCode, p.ProductName, p.ProductType, p.Version,
		p.DocumentRef, p.SourceURL, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert policy %s", p.ID)
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at
		 FROM policies WHERE id = ?`, id)
	return scanPolicy(row)
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]model.Policy, error) {
	query := `SELECT id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at
	          FROM policies WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ProductType != "" {
		query += ` AND product_type = ?`
		args = append(args, filter.ProductType)
	}
	query += ` ORDER BY created_at DESC`
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list policies")
	}
	defer rows.Close()

	var policies []model.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, eris.Wrap(rows.Err(), "sqlite: list policies iterate")
}

func (s *SQLiteStore) AdvancePolicyStatus(ctx context.Context, id string, next model.PolicyStatus) error {
	p, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanAdvance(next) {
		return eris.Errorf("sqlite: policy %s cannot move from %s to %s", id, p.Status, next)
	}

	// Conditional on the status we just read, so a concurrent advance cannot
	// slip a regression through.
	res, err := s.db.ExecContext(ctx,
		`UPDATE policies SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC(), id, string(p.Status),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance policy %s", id)
	}
	return checkRowsAffected(res, "policy", id)
}

// Coverage items

func (s *SQLiteStore) ReplaceCoverageItems(ctx context.Context, policyID string, items []model.CoverageItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM coverage_items WHERE policy_id = ?`, policyID); err != nil {
		return eris.Wrapf(err, "sqlite: clear coverage items for %s", policyID)
	}
	for i, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO coverage_items (policy_id, position, benefit_code, benefit_name, sub_benefit_code, template_code, template_name)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			policyID, i, it.BenefitCode, it.BenefitName, it.SubBenefitCode, it.TemplateCode, it.TemplateName,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert coverage item for %s", policyID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit coverage items")
}

func (s *SQLiteStore) ListCoverageItems(ctx context.Context, policyID string) ([]model.CoverageItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT benefit_code, benefit_name, sub_benefit_code, template_code, template_name
		 FROM coverage_items WHERE policy_id = ? ORDER BY position`, policyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list coverage items")
	}
	defer rows.Close()

	var items []model.CoverageItem
	for rows.Next() {
		var it model.CoverageItem
		if err := rows.Scan(&it.BenefitCode, &it.BenefitName, &it.SubBenefitCode, &it.TemplateCode, &it.TemplateName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list coverage items iterate")
}

// Extraction results

func (s *SQLiteStore) SaveResults(ctx context.Context, results []model.ExtractionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for i := range results {
		r := &results[i]
		itemJSON, provJSON, err := marshalResultBlobs(r)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (id, policy_id, run_id, item, attribute, raw_value, canonical_code, confidence, tier, provenance, verification, exported, extracted_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.PolicyID, r.RunID, itemJSON, string(r.Attr), r.RawValue, r.CanonicalCode,
			r.Confidence, string(r.Tier), provJSON, string(r.Verification), boolToInt(r.Exported),
			r.ExtractedAt, r.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) UpdateResult(ctx context.Context, r *model.ExtractionResult) error {
	r.UpdatedAt = time.Now().UTC()
	itemJSON, provJSON, err := marshalResultBlobs(r)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE results SET item = ?, attribute = ?, raw_value = ?, canonical_code = ?, confidence = ?, tier = ?, provenance = ?, verification = ?, exported = ?, exported_at = ?, updated_at = ?
		 WHERE id = ?`,
		itemJSON, string(r.Attr), r.RawValue, r.CanonicalCode, r.Confidence, string(r.Tier),
		provJSON, string(r.Verification), boolToInt(r.Exported), r.ExportedAt, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update result %s", r.ID)
	}
	return checkRowsAffected(res, "result", r.ID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx, resultSelect+` WHERE id = ?`, id)
	return scanResult(row)
}

const resultSelect = `SELECT id, policy_id, run_id, item, attribute, raw_value, canonical_code, confidence, tier, provenance, verification, exported, exported_at, extracted_at, updated_at FROM results`

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ExtractionResult, error) {
	query := resultSelect + ` WHERE 1=1`
	var args []any

	if filter.PolicyID != "" {
		query += ` AND policy_id = ?`
		args = append(args, filter.PolicyID)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Verification != "" {
		query += ` AND verification = ?`
		args = append(args, string(filter.Verification))
	}
	if filter.Unexported {
		query += ` AND exported = 0`
	}
	query += ` ORDER BY extracted_at, id`
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, at, at)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE results SET exported = 1, exported_at = ?, updated_at = ? WHERE id IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrap(err, "sqlite: mark exported")
}

// Review queue

func (s *SQLiteStore) CreateReviewItem(ctx context.Context, item *model.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.ReviewPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, result_id, status, original_value, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.ResultID, string(item.Status), item.OriginalValue, item.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert review item for result %s", item.ResultID)
}

func (s *SQLiteStore) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, result_id, status, original_value, corrected_value, reviewer, comment, created_at, decided_at
		 FROM reviews WHERE id = ?`, id)
	return scanReview(row)
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT id, result_id, status, original_value, corrected_value, reviewer, comment, created_at, decided_at
	          FROM reviews WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at`
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		it, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list review items iterate")
}

func (s *SQLiteStore) DecideReviewItem(ctx context.Context, item *model.ReviewItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = ?, corrected_value = ?, reviewer = ?, comment = ?, decided_at = ?
		 WHERE id = ? AND status = ?`,
		string(item.Status), item.CorrectedValue, item.Reviewer, item.Comment, item.DecidedAt,
		item.ID, string(model.ReviewPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: decide review item %s", item.ID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, err := s.GetReviewItem(ctx, item.ID)
		if err != nil {
			return err
		}
		return &resilience.DoubleDecisionError{ItemID: item.ID, Status: string(existing.Status)}
	}
	return nil
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	optsJSON, statsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, options, status, stage, progress, stats, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, optsJSON, string(run.Status), string(run.Stage), run.Progress, statsJSON,
		run.Error, run.StartedAt, run.CompletedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	optsJSON, statsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET options = ?, status = ?, stage = ?, progress = ?, stats = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		optsJSON, string(run.Status), string(run.Stage), run.Progress, statsJSON,
		run.Error, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, options, status, stage, progress, stats, error, started_at, completed_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT at, stage, message FROM run_logs WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load run logs")
	}
	defer rows.Close()

	for rows.Next() {
		var e model.LogEntry
		var stage string
		if err := rows.Scan(&e.At, &stage, &e.Message); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run log")
		}
		e.Stage = model.Stage(stage)
		run.Logs = append(run.Logs, e)
	}
	return run, eris.Wrap(rows.Err(), "sqlite: run logs iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, options, status, stage, progress, stats, error, started_at, completed_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	query, args = withPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, runID string, entry model.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs (run_id, at, stage, message) VALUES (?, ?, ?, ?)`,
		runID, entry.At, string(entry.Stage), entry.Message,
	)
	return eris.Wrapf(err, "sqlite: append run log %s", runID)
}

// Transfer and audit

func (s *SQLiteStore) CreateTransferLog(ctx context.Context, tl *model.TransferLog) error {
	if tl.ID == "" {
		tl.ID = uuid.New().String()
	}
	if tl.CreatedAt.IsZero() {
		tl.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfer_logs (id, filename, file_size, checksum_sha256, direction, status, attempts, error, transferred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tl.ID, tl.Filename, tl.FileSize, tl.ChecksumSHA256, tl.Direction, string(tl.Status),
		tl.Attempts, tl.Error, tl.TransferredAt, tl.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert transfer log %s", tl.ID)
}

func (s *SQLiteStore) UpdateTransferLog(ctx context.Context, tl *model.TransferLog) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfer_logs SET status = ?, attempts = ?, error = ?, transferred_at = ?, checksum_sha256 = ?, file_size = ?
		 WHERE id = ?`,
		string(tl.Status), tl.Attempts, tl.Error, tl.TransferredAt, tl.ChecksumSHA256, tl.FileSize, tl.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update transfer log %s", tl.ID)
	}
	return checkRowsAffected(res, "transfer log", tl.ID)
}

func (s *SQLiteStore) ListTransferLogs(ctx context.Context, limit int) ([]model.TransferLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, file_size, checksum_sha256, direction, status, attempts, error, transferred_at, created_at
		 FROM transfer_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transfer logs")
	}
	defer rows.Close()

	var logs []model.TransferLog
	for rows.Next() {
		var tl model.TransferLog
		var errStr sql.NullString
		if err := rows.Scan(&tl.ID, &tl.Filename, &tl.FileSize, &tl.ChecksumSHA256, &tl.Direction,
			&tl.Status, &tl.Attempts, &errStr, &tl.TransferredAt, &tl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transfer log")
		}
		tl.Error = errStr.String
		logs = append(logs, tl)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list transfer logs iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, a *model.AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, event_type, entity_type, entity_id, actor, action, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EventType, a.EntityType, a.EntityID, a.Actor, a.Action, a.Details, a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append audit log")
}

// helpers

func withPage(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}
	return query, args
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalResultBlobs(r *model.ExtractionResult) (string, string, error) {
	itemJSON, err := json.Marshal(r.Item)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal item")
	}
	provJSON, err := json.Marshal(r.Provenance)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal provenance")
	}
	return string(itemJSON), string(provJSON), nil
}

func marshalRunBlobs(run *model.Run) (string, string, error) {
	optsJSON, err := json.Marshal(run.Options)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal run options")
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal run stats")
	}
	return string(optsJSON), string(statsJSON), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPolicy(row scannable) (*model.Policy, error) {
	var p model.Policy
	var status string
	err := row.Scan(&p.ID, &p.ProductCode, &p.ProductName, &p.ProductType, &p.Version,
		&p.DocumentRef, &p.SourceURL, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "policy")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan policy")
	}
	p.Status = model.PolicyStatus(status)
	return &p, nil
}

func scanResult(row scannable) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var itemJSON, provJSON, attr, tier, verification string
	var runID sql.NullString
	var exported int

	err := row.Scan(&r.ID, &r.PolicyID, &runID, &itemJSON, &attr, &r.RawValue, &r.CanonicalCode,
		&r.Confidence, &tier, &provJSON, &verification, &exported, &r.ExportedAt, &r.ExtractedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "result")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan result")
	}

	r.RunID = runID.String
	r.Attr = model.Attribute(attr)
	r.Tier = model.ConfidenceTier(tier)
	r.Verification = model.VerificationStatus(verification)
	r.Exported = exported != 0
	if err := json.Unmarshal([]byte(itemJSON), &r.Item); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal item")
	}
	if err := json.Unmarshal([]byte(provJSON), &r.Provenance); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal provenance")
	}
	return &r, nil
}

func scanReview(row scannable) (*model.ReviewItem, error) {
	var it model.ReviewItem
	var status string
	var corrected, reviewer, comment sql.NullString

	err := row.Scan(&it.ID, &it.ResultID, &status, &it.OriginalValue, &corrected, &reviewer, &comment,
		&it.CreatedAt, &it.DecidedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "review item")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan review item")
	}

	it.Status = model.ReviewStatus(status)
	it.CorrectedValue = corrected.String
	it.Reviewer = reviewer.String
	it.Comment = comment.String
	return &it, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var optsJSON, status, stage string
	var statsJSON, errStr sql.NullString

	err := row.Scan(&r.ID, &optsJSON, &status, &stage, &r.Progress, &statsJSON, &errStr, &r.StartedAt, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	r.Status = model.RunStatus(status)
	r.Stage = model.Stage(stage)
	r.Error = errStr.String
	if err := json.Unmarshal([]byte(optsJSON), &r.Options); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run options")
	}
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run stats")
		}
	}
	return &r, nil
}
