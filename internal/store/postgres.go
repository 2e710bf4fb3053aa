package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/terms-cli/internal/db"
	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS policies (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_code TEXT NOT NULL,
	product_name TEXT NOT NULL,
	product_type TEXT,
	version      TEXT,
	document_ref TEXT NOT NULL,
	source_url   TEXT,
	status       TEXT NOT NULL DEFAULT 'collected',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
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
	item           JSONB NOT NULL,
	attribute      TEXT NOT NULL,
	raw_value      TEXT NOT NULL DEFAULT '',
	canonical_code TEXT,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	tier           TEXT NOT NULL,
	provenance     JSONB NOT NULL,
	verification   TEXT NOT NULL DEFAULT 'pending',
	exported       BOOLEAN NOT NULL DEFAULT false,
	exported_at    TIMESTAMPTZ,
	extracted_at   TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	id              TEXT PRIMARY KEY,
	result_id       TEXT NOT NULL UNIQUE REFERENCES results(id),
	status          TEXT NOT NULL DEFAULT 'pending',
	original_value  TEXT NOT NULL DEFAULT '',
	corrected_value TEXT,
	reviewer        TEXT,
	comment         TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	decided_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	options      JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT,
	progress     DOUBLE PRECISION NOT NULL DEFAULT 0,
	stats        JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_logs (
	id      BIGSERIAL PRIMARY KEY,
	run_id  TEXT NOT NULL REFERENCES runs(id),
	at      TIMESTAMPTZ NOT NULL,
	stage   TEXT,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfer_logs (
	id              TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	file_size       BIGINT NOT NULL DEFAULT 0,
	checksum_sha256 TEXT NOT NULL DEFAULT '',
	direction       TEXT NOT NULL DEFAULT 'outbound',
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	transferred_at  TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT,
	actor       TEXT NOT NULL,
	action      TEXT NOT NULL,
	details     TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status);
CREATE INDEX IF NOT EXISTS idx_results_policy ON results(policy_id);
CREATE INDEX IF NOT EXISTS idx_results_verification ON results(verification);
CREATE INDEX IF NOT EXISTS idx_results_exported ON results(exported);
CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Policies

func (s *PostgresStore) UpsertPolicy(ctx context.Context, p *model.Policy) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.PolicyStatusCollected
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO policies (id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			product_code = EXCLUDED.product_code,
			product_name = EXCLUDED.product_name,
			product_type = EXCLUDED.product_type,
			version      = EXCLUDED.version,
			document_ref = EXCLUDED.document_ref,
			source_url   = EXCLUDED.source_url,
			updated_at   = EXCLUDED.updated_at`,
		p.ID, p.ProductCode, p.ProductName, p.ProductType, p.Version,
		p.DocumentRef, p.SourceURL, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert policy %s", p.ID)
}

func (s *PostgresStore) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at
		 FROM policies WHERE id = $1`, id)
	return scanPolicyPg(row)
}

func (s *PostgresStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]model.Policy, error) {
	query := `SELECT id, product_code, product_name, product_type, version, document_ref, source_url, status, created_at, updated_at
	          FROM policies WHERE ($1 = '' OR status = $1) AND ($2 = '' OR product_type = $2)
	          ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, query, string(filter.Status), filter.ProductType, limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list policies")
	}
	defer rows.Close()

	var policies []model.Policy
	for rows.Next() {
		p, err := scanPolicyPg(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, eris.Wrap(rows.Err(), "postgres: list policies iterate")
}

func (s *PostgresStore) AdvancePolicyStatus(ctx context.Context, id string, next model.PolicyStatus) error {
	p, err := s.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if !p.Status.CanAdvance(next) {
		return eris.Errorf("postgres: policy %s cannot move from %s to %s", id, p.Status, next)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE policies SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), time.Now().UTC(), id, string(p.Status),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: advance policy %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "policy %s", id)
	}
	return nil
}

// Coverage items

func (s *PostgresStore) ReplaceCoverageItems(ctx context.Context, policyID string, items []model.CoverageItem) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM coverage_items WHERE policy_id = $1`, policyID); err != nil {
		return eris.Wrapf(err, "postgres: clear coverage items for %s", policyID)
	}

	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{policyID, i, it.BenefitCode, it.BenefitName, it.SubBenefitCode, it.TemplateCode, it.TemplateName}
	}
	_, err := db.CopyFrom(ctx, s.pool, "coverage_items",
		[]string{"policy_id", "position", "benefit_code", "benefit_name", "sub_benefit_code", "template_code", "template_name"},
		rows)
	return eris.Wrapf(err, "postgres: copy coverage items for %s", policyID)
}

func (s *PostgresStore) ListCoverageItems(ctx context.Context, policyID string) ([]model.CoverageItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT benefit_code, benefit_name, sub_benefit_code, template_code, template_name
		 FROM coverage_items WHERE policy_id = $1 ORDER BY position`, policyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list coverage items")
	}
	defer rows.Close()

	var items []model.CoverageItem
	for rows.Next() {
		var it model.CoverageItem
		if err := rows.Scan(&it.BenefitCode, &it.BenefitName, &it.SubBenefitCode, &it.TemplateCode, &it.TemplateName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coverage item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list coverage items iterate")
}

// Extraction results

func (s *PostgresStore) SaveResults(ctx context.Context, results []model.ExtractionResult) error {
	rows := make([][]any, len(results))
	for i := range results {
		r := &results[i]
		itemJSON, provJSON, err := marshalResultBlobs(r)
		if err != nil {
			return err
		}
		rows[i] = []any{
			r.ID, r.PolicyID, r.RunID, itemJSON, string(r.Attr), r.RawValue, r.CanonicalCode,
			r.Confidence, string(r.Tier), provJSON, string(r.Verification), r.Exported,
			r.ExtractedAt, r.UpdatedAt,
		}
	}

	// A run may re-extract a policy it already holds results for; conflicts on
	// id replace the earlier row.
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "results",
		Columns:      []string{"id", "policy_id", "run_id", "item", "attribute", "raw_value", "canonical_code", "confidence", "tier", "provenance", "verification", "exported", "extracted_at", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrap(err, "postgres: save results")
}

func (s *PostgresStore) UpdateResult(ctx context.Context, r *model.ExtractionResult) error {
	r.UpdatedAt = time.Now().UTC()
	itemJSON, provJSON, err := marshalResultBlobs(r)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE results SET item = $1, attribute = $2, raw_value = $3, canonical_code = $4, confidence = $5, tier = $6, provenance = $7, verification = $8, exported = $9, exported_at = $10, updated_at = $11
		 WHERE id = $12`,
		itemJSON, string(r.Attr), r.RawValue, r.CanonicalCode, r.Confidence, string(r.Tier),
		provJSON, string(r.Verification), r.Exported, r.ExportedAt, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update result %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "result %s", r.ID)
	}
	return nil
}

const resultSelectPg = `SELECT id, policy_id, run_id, item, attribute, raw_value, canonical_code, confidence, tier, provenance, verification, exported, exported_at, extracted_at, updated_at FROM results`

func (s *PostgresStore) GetResult(ctx context.Context, id string) (*model.ExtractionResult, error) {
	row := s.pool.QueryRow(ctx, resultSelectPg+` WHERE id = $1`, id)
	return scanResultPg(row)
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ExtractionResult, error) {
	query := resultSelectPg + `
		 WHERE ($1 = '' OR policy_id = $1)
		   AND ($2 = '' OR run_id = $2)
		   AND ($3 = '' OR verification = $3)
		   AND (NOT $4::boolean OR exported = false)
		 ORDER BY extracted_at, id LIMIT $5 OFFSET $6`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, query,
		filter.PolicyID, filter.RunID, string(filter.Verification), filter.Unexported, limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.ExtractionResult
	for rows.Next() {
		r, err := scanResultPg(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE results SET exported = true, exported_at = $1, updated_at = $1 WHERE id = ANY($2)`,
		at, ids,
	)
	return eris.Wrap(err, "postgres: mark exported")
}

// Review queue

func (s *PostgresStore) CreateReviewItem(ctx context.Context, item *model.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.ReviewPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reviews (id, result_id, status, original_value, created_at) VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.ResultID, string(item.Status), item.OriginalValue, item.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert review item for result %s", item.ResultID)
}

func (s *PostgresStore) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, result_id, status, original_value, corrected_value, reviewer, comment, created_at, decided_at
		 FROM reviews WHERE id = $1`, id)
	return scanReviewPg(row)
}

func (s *PostgresStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, result_id, status, original_value, corrected_value, reviewer, comment, created_at, decided_at
		 FROM reviews WHERE ($1 = '' OR status = $1) ORDER BY created_at LIMIT $2 OFFSET $3`,
		string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		it, err := scanReviewPg(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

func (s *PostgresStore) DecideReviewItem(ctx context.Context, item *model.ReviewItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reviews SET status = $1, corrected_value = $2, reviewer = $3, comment = $4, decided_at = $5
		 WHERE id = $6 AND status = $7`,
		string(item.Status), item.CorrectedValue, item.Reviewer, item.Comment, item.DecidedAt,
		item.ID, string(model.ReviewPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: decide review item %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetReviewItem(ctx, item.ID)
		if err != nil {
			return err
		}
		return &resilience.DoubleDecisionError{ItemID: item.ID, Status: string(existing.Status)}
	}
	return nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	optsJSON, statsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, options, status, stage, progress, stats, error, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, optsJSON, string(run.Status), string(run.Stage), run.Progress, statsJSON,
		run.Error, run.StartedAt, run.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	optsJSON, statsJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET options = $1, status = $2, stage = $3, progress = $4, stats = $5, error = $6, completed_at = $7
		 WHERE id = $8`,
		optsJSON, string(run.Status), string(run.Stage), run.Progress, statsJSON,
		run.Error, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, options, status, stage, progress, stats, error, started_at, completed_at FROM runs WHERE id = $1`, id)
	run, err := scanRunPg(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT at, stage, message FROM run_logs WHERE run_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load run logs")
	}
	defer rows.Close()

	for rows.Next() {
		var e model.LogEntry
		var stage string
		if err := rows.Scan(&e.At, &stage, &e.Message); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run log")
		}
		e.Stage = model.Stage(stage)
		run.Logs = append(run.Logs, e)
	}
	return run, eris.Wrap(rows.Err(), "postgres: run logs iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, options, status, stage, progress, stats, error, started_at, completed_at
		 FROM runs WHERE ($1 = '' OR status = $1) ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRunPg(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, runID string, entry model.LogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_logs (run_id, at, stage, message) VALUES ($1, $2, $3, $4)`,
		runID, entry.At, string(entry.Stage), entry.Message,
	)
	return eris.Wrapf(err, "postgres: append run log %s", runID)
}

// Transfer and audit

func (s *PostgresStore) CreateTransferLog(ctx context.Context, tl *model.TransferLog) error {
	if tl.ID == "" {
		tl.ID = uuid.New().String()
	}
	if tl.CreatedAt.IsZero() {
		tl.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_logs (id, filename, file_size, checksum_sha256, direction, status, attempts, error, transferred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tl.ID, tl.Filename, tl.FileSize, tl.ChecksumSHA256, tl.Direction, string(tl.Status),
		tl.Attempts, tl.Error, tl.TransferredAt, tl.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert transfer log %s", tl.ID)
}

func (s *PostgresStore) UpdateTransferLog(ctx context.Context, tl *model.TransferLog) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfer_logs SET status = $1, attempts = $2, error = $3, transferred_at = $4, checksum_sha256 = $5, file_size = $6
		 WHERE id = $7`,
		string(tl.Status), tl.Attempts, tl.Error, tl.TransferredAt, tl.ChecksumSHA256, tl.FileSize, tl.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update transfer log %s", tl.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "transfer log %s", tl.ID)
	}
	return nil
}

func (s *PostgresStore) ListTransferLogs(ctx context.Context, limit int) ([]model.TransferLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, file_size, checksum_sha256, direction, status, attempts, error, transferred_at, created_at
		 FROM transfer_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transfer logs")
	}
	defer rows.Close()

	var logs []model.TransferLog
	for rows.Next() {
		var tl model.TransferLog
		var status string
		var errStr *string
		if err := rows.Scan(&tl.ID, &tl.Filename, &tl.FileSize, &tl.ChecksumSHA256, &tl.Direction,
			&status, &tl.Attempts, &errStr, &tl.TransferredAt, &tl.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transfer log")
		}
		tl.Status = model.TransferStatus(status)
		if errStr != nil {
			tl.Error = *errStr
		}
		logs = append(logs, tl)
	}
	return logs, eris.Wrap(rows.Err(), "postgres: list transfer logs iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, a *model.AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, event_type, entity_type, entity_id, actor, action, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EventType, a.EntityType, a.EntityID, a.Actor, a.Action, a.Details, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit log")
}

// scan helpers

func scanPolicyPg(row pgx.Row) (*model.Policy, error) {
	var p model.Policy
	var status string
	err := row.Scan(&p.ID, &p.ProductCode, &p.ProductName, &p.ProductType, &p.Version,
		&p.DocumentRef, &p.SourceURL, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "policy")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan policy")
	}
	p.Status = model.PolicyStatus(status)
	return &p, nil
}

func scanResultPg(row pgx.Row) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var itemJSON, provJSON []byte
	var attr, tier, verification string
	var runID *string

	err := row.Scan(&r.ID, &r.PolicyID, &runID, &itemJSON, &attr, &r.RawValue, &r.CanonicalCode,
		&r.Confidence, &tier, &provJSON, &verification, &r.Exported, &r.ExportedAt, &r.ExtractedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "result")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan result")
	}

	if runID != nil {
		r.RunID = *runID
	}
	r.Attr = model.Attribute(attr)
	r.Tier = model.ConfidenceTier(tier)
	r.Verification = model.VerificationStatus(verification)
	if err := json.Unmarshal(itemJSON, &r.Item); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal item")
	}
	if err := json.Unmarshal(provJSON, &r.Provenance); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal provenance")
	}
	return &r, nil
}

func scanReviewPg(row pgx.Row) (*model.ReviewItem, error) {
	var it model.ReviewItem
	var status string
	var corrected, reviewer, comment *string

	err := row.Scan(&it.ID, &it.ResultID, &status, &it.OriginalValue, &corrected, &reviewer, &comment,
		&it.CreatedAt, &it.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "review item")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan review item")
	}

	it.Status = model.ReviewStatus(status)
	if corrected != nil {
		it.CorrectedValue = *corrected
	}
	if reviewer != nil {
		it.Reviewer = *reviewer
	}
	if comment != nil {
		it.Comment = *comment
	}
	return &it, nil
}

func scanRunPg(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var optsJSON []byte
	var statsJSON []byte
	var status, stage string
	var errStr *string

	err := row.Scan(&r.ID, &optsJSON, &status, &stage, &r.Progress, &statsJSON, &errStr, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	r.Status = model.RunStatus(status)
	r.Stage = model.Stage(stage)
	if errStr != nil {
		r.Error = *errStr
	}
	if err := json.Unmarshal(optsJSON, &r.Options); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run options")
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run stats")
		}
	}
	return &r, nil
}
