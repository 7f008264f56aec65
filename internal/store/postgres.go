package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deep-research/internal/db"
	"github.com/sells-group/deep-research/internal/model"
)

// PostgresStore implements Store using pgxpool and pgvector.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
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
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS research (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	topic            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL DEFAULT 'full',
	status           TEXT NOT NULL DEFAULT 'pending',
	current_phase    INTEGER NOT NULL DEFAULT 0,
	current_step     TEXT NOT NULL DEFAULT '',
	progress_percent INTEGER NOT NULL DEFAULT 0 CHECK (progress_percent BETWEEN 0 AND 100),
	error_message    TEXT,
	parent_id        TEXT REFERENCES research(id) ON DELETE SET NULL,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_user_created ON research(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_research_status ON research(status);

CREATE TABLE IF NOT EXISTS phase_results (
	research_id  TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	phase        INTEGER NOT NULL,
	task_id      TEXT NOT NULL,
	task_name    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	content      TEXT,
	model_used   TEXT,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (research_id, task_id)
);

CREATE TABLE IF NOT EXISTS sources (
	id                BIGSERIAL PRIMARY KEY,
	research_id       TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	provider          TEXT NOT NULL,
	providers         TEXT[] NOT NULL DEFAULT '{}',
	title             TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL,
	snippet           TEXT,
	source_type       TEXT NOT NULL DEFAULT 'other',
	reliability_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	cross_validated   BOOLEAN NOT NULL DEFAULT false,
	page_age          TEXT,
	language          TEXT,
	confidence        DOUBLE PRECISION,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_research ON sources(research_id);

CREATE TABLE IF NOT EXISTS fact_checks (
	id               BIGSERIAL PRIMARY KEY,
	research_id      TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	phase            INTEGER NOT NULL DEFAULT 1,
	claim            TEXT NOT NULL,
	openai_result    TEXT,
	anthropic_result TEXT,
	gemini_result    TEXT,
	grade            TEXT NOT NULL CHECK (grade IN ('A','B','C','D','F')),
	confidence_score DOUBLE PRECISION,
	notes            TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fact_checks_research ON fact_checks(research_id);

CREATE TABLE IF NOT EXISTS reports (
	research_id       TEXT PRIMARY KEY REFERENCES research(id) ON DELETE CASCADE,
	executive_summary TEXT NOT NULL DEFAULT '',
	full_report       TEXT NOT NULL DEFAULT '',
	embedding         vector(1536),
	share_token       TEXT UNIQUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_embedding ON reports USING hnsw (embedding vector_cosine_ops);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// CreateResearch inserts the research and its ten pending task rows in one
// transaction. ID and timestamps are filled in when empty.
func (s *PostgresStore) CreateResearch(ctx context.Context, r *model.Research) error {
	if err := validateResearch(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.clock()
	r.CreatedAt, r.UpdatedAt = now, now

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO research (id, user_id, topic, description, mode, status, parent_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.UserID, r.Topic, r.Description, string(r.Mode), string(r.Status), nullable(r.ParentID), now, now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert research")
		}

		tasks := model.InitialTasks(r.ID)
		rows := make([][]any, len(tasks))
		for i, t := range tasks {
			rows[i] = []any{t.ResearchID, t.Phase, t.TaskID, t.TaskName, string(t.Status)}
		}
		_, err = db.CopyFrom(ctx, tx, "phase_results", []string{"research_id", "phase", "task_id", "task_name", "status"}, rows)
		return err
	})
}

func (s *PostgresStore) GetResearch(ctx context.Context, id string) (*model.Research, error) {
	query, args, err := postgresDialect.getResearch(id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get research")
	}
	r, err := scanResearchPG(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "research %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get research %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListResearch(ctx context.Context, filter ResearchFilter) ([]model.Research, error) {
	query, args, err := postgresDialect.listResearch(filter)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list research")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list research")
	}
	defer rows.Close()

	var out []model.Research
	for rows.Next() {
		r, err := scanResearchPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan research")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list research iterate")
}

func (s *PostgresStore) CountActive(ctx context.Context, userID string) (int, error) {
	query, args, err := postgresDialect.countActive(userID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: build count active")
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count active")
	}
	return n, nil
}

// pgExecer is the part of pgxpool.Pool and pgx.Tx the research writers use.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) UpdateResearch(ctx context.Context, id string, u model.ResearchUpdate) error {
	return s.updateResearch(ctx, s.pool, id, u, s.clock())
}

func (s *PostgresStore) updateResearch(ctx context.Context, q pgExecer, id string, u model.ResearchUpdate, now time.Time) error {
	query, args, err := postgresDialect.updateResearch(id, u, now)
	if err != nil {
		return eris.Wrap(err, "postgres: build update research")
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update research %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the row is gone or it is terminal.
	var status string
	err = q.QueryRow(ctx, `SELECT status FROM research WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "research %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update research %s", id)
	}
	return eris.Wrapf(ErrTerminal, "research %s is %s", id, status)
}

// CompleteResearch marks the research completed and upserts its report in
// one transaction. A research that is already terminal keeps its state and
// gets no report.
func (s *PostgresStore) CompleteResearch(ctx context.Context, r *model.Report, u model.ResearchUpdate) error {
	completed := model.StatusCompleted
	u.Status = &completed
	now := s.clock()
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.updateResearch(ctx, tx, r.ResearchID, u, now); err != nil {
			return err
		}
		return saveReportPostgres(ctx, tx, r, now)
	})
}

func (s *PostgresStore) DeleteResearch(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM research WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete research %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "research %s", id)
	}
	return nil
}

func (s *PostgresStore) GetDetail(ctx context.Context, id string) (*model.ResearchDetail, error) {
	r, err := s.GetResearch(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &model.ResearchDetail{Research: *r}

	if d.Sources, err = s.ListSources(ctx, id); err != nil {
		return nil, err
	}
	if d.Tasks, err = s.ListTasks(ctx, id); err != nil {
		return nil, err
	}
	if d.FactChecks, err = s.ListFactChecks(ctx, id); err != nil {
		return nil, err
	}
	rep, err := s.GetReport(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		d.Report = rep
	}
	return d, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, researchID, taskID string, u model.TaskUpdate) error {
	query, args, err := postgresDialect.updateTask(researchID, taskID, u)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task %s/%s", researchID, taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "task %s/%s", researchID, taskID)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, researchID string) ([]model.PhaseTask, error) {
	query, args, err := postgresDialect.listTasks(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list tasks")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var out []model.PhaseTask
	for rows.Next() {
		var t model.PhaseTask
		var status string
		var content, modelUsed *string
		if err := rows.Scan(&t.ResearchID, &t.Phase, &t.TaskID, &t.TaskName, &status,
			&content, &modelUsed, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Status = model.TaskStatus(status)
		t.Content, t.ModelUsed = deref(content), deref(modelUsed)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// InsertSources bulk-loads sources with COPY.
func (s *PostgresStore) InsertSources(ctx context.Context, researchID string, sources []model.Source) error {
	now := s.clock()
	rows := make([][]any, len(sources))
	for i, src := range sources {
		rows[i] = []any{
			researchID, string(src.Provider), providerStrings(src.Providers), src.Title, src.URL,
			nullable(src.Snippet), string(src.SourceType), src.ReliabilityScore, src.CrossValidated,
			nullable(src.PageAge), nullable(string(src.Language)), src.Confidence, now,
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "sources", sourceColumns, rows)
	return eris.Wrapf(err, "postgres: insert sources for %s", researchID)
}

func (s *PostgresStore) ListSources(ctx context.Context, researchID string) ([]model.Source, error) {
	query, args, err := postgresDialect.listSources(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list sources")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var provider, sourceType string
		var providers []string
		var snippet, pageAge, language *string
		if err := rows.Scan(&src.ID, &src.ResearchID, &provider, &providers, &src.Title, &src.URL,
			&snippet, &sourceType, &src.ReliabilityScore, &src.CrossValidated, &pageAge,
			&language, &src.Confidence, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		src.Provider = model.Provider(provider)
		src.Providers = toProviders(providers)
		src.SourceType = model.SourceType(sourceType)
		src.Snippet, src.PageAge = deref(snippet), deref(pageAge)
		src.Language = model.Language(deref(language))
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) InsertFactChecks(ctx context.Context, researchID string, items []model.FactCheckItem) error {
	now := s.clock()
	rows := make([][]any, len(items))
	for i, fc := range items {
		rows[i] = []any{
			researchID, fc.Phase, fc.Claim, fc.OpenAIResult, fc.AnthropicResult, fc.GeminiResult,
			string(fc.Grade), fc.ConfidenceScore, nullable(fc.Notes), now,
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "fact_checks", factCheckColumns, rows)
	return eris.Wrapf(err, "postgres: insert fact checks for %s", researchID)
}

func (s *PostgresStore) ListFactChecks(ctx context.Context, researchID string) ([]model.FactCheckItem, error) {
	query, args, err := postgresDialect.listFactChecks(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list fact checks")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fact checks")
	}
	defer rows.Close()

	var out []model.FactCheckItem
	for rows.Next() {
		var fc model.FactCheckItem
		var grade string
		var notes *string
		if err := rows.Scan(&fc.ID, &fc.ResearchID, &fc.Phase, &fc.Claim, &fc.OpenAIResult,
			&fc.AnthropicResult, &fc.GeminiResult, &grade, &fc.ConfidenceScore, &notes, &fc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact check")
		}
		fc.Grade = model.TrustGrade(grade)
		fc.Notes = deref(notes)
		out = append(out, fc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list fact checks iterate")
}

// SaveReport upserts the report for a research. The share token is left
// untouched.
func (s *PostgresStore) SaveReport(ctx context.Context, r *model.Report) error {
	return saveReportPostgres(ctx, s.pool, r, s.clock())
}

func saveReportPostgres(ctx context.Context, q pgExecer, r *model.Report, now time.Time) error {
	var embedding *string
	if len(r.Embedding) > 0 {
		lit := db.VectorLiteral(r.Embedding)
		embedding = &lit
	}
	_, err := q.Exec(ctx,
		`INSERT INTO reports (research_id, executive_summary, full_report, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::vector, $5, $5)
		 ON CONFLICT (research_id) DO UPDATE SET
			executive_summary = EXCLUDED.executive_summary,
			full_report = EXCLUDED.full_report,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		r.ResearchID, r.ExecutiveSummary, r.FullReport, embedding, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save report %s", r.ResearchID)
	}
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, researchID string) (*model.Report, error) {
	var r model.Report
	var token *string
	err := s.pool.QueryRow(ctx,
		`SELECT research_id, executive_summary, full_report, share_token, created_at, updated_at
		 FROM reports WHERE research_id = $1`,
		researchID,
	).Scan(&r.ResearchID, &r.ExecutiveSummary, &r.FullReport, &token, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", researchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", researchID)
	}
	r.ShareToken = deref(token)
	return &r, nil
}

// EnsureShareToken sets a share token once and returns the stored one.
func (s *PostgresStore) EnsureShareToken(ctx context.Context, researchID string) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`UPDATE reports SET share_token = COALESCE(share_token, $1)
		 WHERE research_id = $2 RETURNING share_token`,
		uuid.New().String(), researchID,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "report %s", researchID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: share report %s", researchID)
	}
	return token, nil
}

func (s *PostgresStore) GetSharedReport(ctx context.Context, token string) (*model.SharedReport, error) {
	var sr model.SharedReport
	err := s.pool.QueryRow(ctx,
		`SELECT r.research_id, r.executive_summary, r.full_report, r.share_token, r.created_at, r.updated_at,
			re.topic, re.created_at
		 FROM reports r JOIN research re ON re.id = r.research_id
		 WHERE r.share_token = $1`,
		token,
	).Scan(&sr.ResearchID, &sr.ExecutiveSummary, &sr.FullReport, &sr.ShareToken, &sr.CreatedAt, &sr.UpdatedAt,
		&sr.Topic, &sr.ResearchCreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "shared report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get shared report")
	}
	return &sr, nil
}

// SearchReports ranks the user's reports by cosine similarity with pgvector.
func (s *PostgresStore) SearchReports(ctx context.Context, q SearchQuery) ([]model.SearchMatch, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT r.research_id, re.topic, r.executive_summary, 1 - (r.embedding <=> $1::vector) AS similarity
		 FROM reports r JOIN research re ON re.id = r.research_id
		 WHERE re.user_id = $2 AND r.embedding IS NOT NULL
		   AND 1 - (r.embedding <=> $1::vector) > $3
		 ORDER BY r.embedding <=> $1::vector
		 LIMIT $4`,
		db.VectorLiteral(q.Embedding), q.UserID, q.Threshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search reports")
	}
	defer rows.Close()

	var out []model.SearchMatch
	for rows.Next() {
		var m model.SearchMatch
		if err := rows.Scan(&m.ResearchID, &m.Topic, &m.ExecutiveSummary, &m.Similarity); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search match")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: search reports iterate")
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanResearchPG(row pgRow) (*model.Research, error) {
	var r model.Research
	var mode, status string
	var errMsg, parentID *string
	err := row.Scan(&r.ID, &r.UserID, &r.Topic, &r.Description, &mode, &status,
		&r.CurrentPhase, &r.CurrentStep, &r.ProgressPercent, &errMsg, &parentID,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Mode = model.Mode(mode)
	r.Status = model.ResearchStatus(status)
	r.ErrorMessage, r.ParentID = deref(errMsg), deref(parentID)
	return &r, nil
}
