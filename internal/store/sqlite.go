package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deep-research/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Embeddings are
// stored as JSON and ranked in process.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	topic            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	mode             TEXT NOT NULL DEFAULT 'full',
	status           TEXT NOT NULL DEFAULT 'pending',
	current_phase    INTEGER NOT NULL DEFAULT 0,
	current_step     TEXT NOT NULL DEFAULT '',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	parent_id        TEXT,
	started_at       DATETIME,
	completed_at     DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_user_created ON research(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_research_status ON research(status);

CREATE TABLE IF NOT EXISTS phase_results (
	research_id  TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	phase        INTEGER NOT NULL,
	task_id      TEXT NOT NULL,
	task_name    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	content      TEXT,
	model_used   TEXT,
	started_at   DATETIME,
	completed_at DATETIME,
	PRIMARY KEY (research_id, task_id)
);

CREATE TABLE IF NOT EXISTS sources (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	research_id       TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	provider          TEXT NOT NULL,
	providers         TEXT NOT NULL DEFAULT '[]',
	title             TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL,
	snippet           TEXT,
	source_type       TEXT NOT NULL DEFAULT 'other',
	reliability_score REAL NOT NULL DEFAULT 0.5,
	cross_validated   BOOLEAN NOT NULL DEFAULT 0,
	page_age          TEXT,
	language          TEXT,
	confidence        REAL,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sources_research ON sources(research_id);

CREATE TABLE IF NOT EXISTS fact_checks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	research_id      TEXT NOT NULL REFERENCES research(id) ON DELETE CASCADE,
	phase            INTEGER NOT NULL DEFAULT 1,
	claim            TEXT NOT NULL,
	openai_result    TEXT,
	anthropic_result TEXT,
	gemini_result    TEXT,
	grade            TEXT NOT NULL,
	confidence_score REAL,
	notes            TEXT,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_checks_research ON fact_checks(research_id);

CREATE TABLE IF NOT EXISTS reports (
	research_id       TEXT PRIMARY KEY REFERENCES research(id) ON DELETE CASCADE,
	executive_summary TEXT NOT NULL DEFAULT '',
	full_report       TEXT NOT NULL DEFAULT '',
	embedding         TEXT,
	share_token       TEXT UNIQUE,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) CreateResearch(ctx context.Context, r *model.Research) error {
	if err := validateResearch(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.clock()
	r.CreatedAt, r.UpdatedAt = now, now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO research (id, user_id, topic, description, mode, status, parent_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UserID, r.Topic, r.Description, string(r.Mode), string(r.Status), nullable(r.ParentID), now, now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert research")
		}
		for _, t := range model.InitialTasks(r.ID) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO phase_results (research_id, phase, task_id, task_name, status) VALUES (?, ?, ?, ?, ?)`,
				t.ResearchID, t.Phase, t.TaskID, t.TaskName, string(t.Status),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert task %s", t.TaskID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetResearch(ctx context.Context, id string) (*model.Research, error) {
	query, args, err := sqliteDialect.getResearch(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get research")
	}
	r, err := scanResearchSQL(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "research %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get research %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListResearch(ctx context.Context, filter ResearchFilter) ([]model.Research, error) {
	query, args, err := sqliteDialect.listResearch(filter)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list research")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list research")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Research
	for rows.Next() {
		r, err := scanResearchSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan research")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list research iterate")
}

func (s *SQLiteStore) CountActive(ctx context.Context, userID string) (int, error) {
	query, args, err := sqliteDialect.countActive(userID)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build count active")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count active")
	}
	return n, nil
}

// sqlExecer is the part of *sql.DB and *sql.Tx the research writers use.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) UpdateResearch(ctx context.Context, id string, u model.ResearchUpdate) error {
	return updateResearchSQLite(ctx, s.db, id, u, s.clock())
}

func updateResearchSQLite(ctx context.Context, q sqlExecer, id string, u model.ResearchUpdate, now time.Time) error {
	query, args, err := sqliteDialect.updateResearch(id, u, now)
	if err != nil {
		return eris.Wrap(err, "sqlite: build update research")
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update research %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = q.QueryRowContext(ctx, `SELECT status FROM research WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "research %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update research %s", id)
	}
	return eris.Wrapf(ErrTerminal, "research %s is %s", id, status)
}

// CompleteResearch marks the research completed and upserts its report in
// one transaction. A research that is already terminal keeps its state and
// gets no report.
func (s *SQLiteStore) CompleteResearch(ctx context.Context, r *model.Report, u model.ResearchUpdate) error {
	completed := model.StatusCompleted
	u.Status = &completed
	now := s.clock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateResearchSQLite(ctx, tx, r.ResearchID, u, now); err != nil {
			return err
		}
		return saveReportSQLite(ctx, tx, r, now)
	})
}

// DeleteResearch removes the research and its children explicitly so the
// cascade holds even on connections without foreign_keys enabled.
func (s *SQLiteStore) DeleteResearch(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"reports", "fact_checks", "sources", "phase_results"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE research_id = ?`, id); err != nil {
				return eris.Wrapf(err, "sqlite: delete %s for %s", table, id)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM research WHERE id = ?`, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete research %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eris.Wrapf(ErrNotFound, "research %s", id)
		}
		return nil
	})
}

func (s *SQLiteStore) GetDetail(ctx context.Context, id string) (*model.ResearchDetail, error) {
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

func (s *SQLiteStore) UpdateTask(ctx context.Context, researchID, taskID string, u model.TaskUpdate) error {
	query, args, err := sqliteDialect.updateTask(researchID, taskID, u)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task %s/%s", researchID, taskID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "task %s/%s", researchID, taskID)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, researchID string) ([]model.PhaseTask, error) {
	query, args, err := sqliteDialect.listTasks(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list tasks")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PhaseTask
	for rows.Next() {
		var t model.PhaseTask
		var status string
		var content, modelUsed sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&t.ResearchID, &t.Phase, &t.TaskID, &t.TaskName, &status,
			&content, &modelUsed, &startedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Status = model.TaskStatus(status)
		t.Content, t.ModelUsed = content.String, modelUsed.String
		t.StartedAt, t.CompletedAt = timePtr(startedAt), timePtr(completedAt)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) InsertSources(ctx context.Context, researchID string, sources []model.Source) error {
	if len(sources) == 0 {
		return nil
	}
	now := s.clock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO sources (research_id, provider, providers, title, url, snippet, source_type,
				reliability_score, cross_validated, page_age, language, confidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare insert source")
		}
		defer stmt.Close() //nolint:errcheck

		for _, src := range sources {
			providers, err := json.Marshal(providerStrings(src.Providers))
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal providers")
			}
			if _, err := stmt.ExecContext(ctx,
				researchID, string(src.Provider), string(providers), src.Title, src.URL,
				nullable(src.Snippet), string(src.SourceType), src.ReliabilityScore, src.CrossValidated,
				nullable(src.PageAge), nullable(string(src.Language)), src.Confidence, now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert source %s", src.URL)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListSources(ctx context.Context, researchID string) ([]model.Source, error) {
	query, args, err := sqliteDialect.listSources(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list sources")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var provider, providers, sourceType string
		var snippet, pageAge, language sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&src.ID, &src.ResearchID, &provider, &providers, &src.Title, &src.URL,
			&snippet, &sourceType, &src.ReliabilityScore, &src.CrossValidated, &pageAge,
			&language, &confidence, &src.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		var names []string
		if err := json.Unmarshal([]byte(providers), &names); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal providers")
		}
		src.Provider = model.Provider(provider)
		src.Providers = toProviders(names)
		src.SourceType = model.SourceType(sourceType)
		src.Snippet, src.PageAge = snippet.String, pageAge.String
		src.Language = model.Language(language.String)
		if confidence.Valid {
			c := confidence.Float64
			src.Confidence = &c
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) InsertFactChecks(ctx context.Context, researchID string, items []model.FactCheckItem) error {
	if len(items) == 0 {
		return nil
	}
	now := s.clock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, fc := range items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fact_checks (research_id, phase, claim, openai_result, anthropic_result,
					gemini_result, grade, confidence_score, notes, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				researchID, fc.Phase, fc.Claim, fc.OpenAIResult, fc.AnthropicResult, fc.GeminiResult,
				string(fc.Grade), fc.ConfidenceScore, nullable(fc.Notes), now,
			); err != nil {
				return eris.Wrap(err, "sqlite: insert fact check")
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListFactChecks(ctx context.Context, researchID string) ([]model.FactCheckItem, error) {
	query, args, err := sqliteDialect.listFactChecks(researchID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list fact checks")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fact checks")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FactCheckItem
	for rows.Next() {
		var fc model.FactCheckItem
		var grade string
		var openai, anthropic, gemini, notes sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&fc.ID, &fc.ResearchID, &fc.Phase, &fc.Claim, &openai, &anthropic,
			&gemini, &grade, &confidence, &notes, &fc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact check")
		}
		fc.OpenAIResult = stringPtr(openai)
		fc.AnthropicResult = stringPtr(anthropic)
		fc.GeminiResult = stringPtr(gemini)
		fc.Grade = model.TrustGrade(grade)
		fc.Notes = notes.String
		if confidence.Valid {
			c := confidence.Float64
			fc.ConfidenceScore = &c
		}
		out = append(out, fc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list fact checks iterate")
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.Report) error {
	return saveReportSQLite(ctx, s.db, r, s.clock())
}

func saveReportSQLite(ctx context.Context, q sqlExecer, r *model.Report, now time.Time) error {
	var embedding *string
	if len(r.Embedding) > 0 {
		b, err := json.Marshal(r.Embedding)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal embedding")
		}
		e := string(b)
		embedding = &e
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO reports (research_id, executive_summary, full_report, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (research_id) DO UPDATE SET
			executive_summary = excluded.executive_summary,
			full_report = excluded.full_report,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		r.ResearchID, r.ExecutiveSummary, r.FullReport, embedding, now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save report %s", r.ResearchID)
	}
	r.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, researchID string) (*model.Report, error) {
	var r model.Report
	var token, embedding sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT research_id, executive_summary, full_report, embedding, share_token, created_at, updated_at
		 FROM reports WHERE research_id = ?`,
		researchID,
	).Scan(&r.ResearchID, &r.ExecutiveSummary, &r.FullReport, &embedding, &token, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "report %s", researchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", researchID)
	}
	r.ShareToken = token.String
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &r.Embedding); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) EnsureShareToken(ctx context.Context, researchID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`UPDATE reports SET share_token = COALESCE(share_token, ?)
		 WHERE research_id = ? RETURNING share_token`,
		uuid.New().String(), researchID,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "report %s", researchID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: share report %s", researchID)
	}
	return token, nil
}

func (s *SQLiteStore) GetSharedReport(ctx context.Context, token string) (*model.SharedReport, error) {
	var sr model.SharedReport
	err := s.db.QueryRowContext(ctx,
		`SELECT r.research_id, r.executive_summary, r.full_report, r.share_token, r.created_at, r.updated_at,
			re.topic, re.created_at
		 FROM reports r JOIN research re ON re.id = r.research_id
		 WHERE r.share_token = ?`,
		token,
	).Scan(&sr.ResearchID, &sr.ExecutiveSummary, &sr.FullReport, &sr.ShareToken, &sr.CreatedAt, &sr.UpdatedAt,
		&sr.Topic, &sr.ResearchCreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "shared report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get shared report")
	}
	return &sr, nil
}

// SearchReports loads the user's embeddings and ranks them by cosine
// similarity.
func (s *SQLiteStore) SearchReports(ctx context.Context, q SearchQuery) ([]model.SearchMatch, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.research_id, re.topic, r.executive_summary, r.embedding
		 FROM reports r JOIN research re ON re.id = r.research_id
		 WHERE re.user_id = ? AND r.embedding IS NOT NULL`,
		q.UserID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search reports")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SearchMatch
	for rows.Next() {
		var m model.SearchMatch
		var raw string
		if err := rows.Scan(&m.ResearchID, &m.Topic, &m.ExecutiveSummary, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search match")
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
		}
		m.Similarity = cosine(q.Embedding, vec)
		if m.Similarity > q.Threshold {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search reports iterate")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResearchSQL(row scannable) (*model.Research, error) {
	var r model.Research
	var mode, status string
	var errMsg, parentID sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.Topic, &r.Description, &mode, &status,
		&r.CurrentPhase, &r.CurrentStep, &r.ProgressPercent, &errMsg, &parentID,
		&startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Mode = model.Mode(mode)
	r.Status = model.ResearchStatus(status)
	r.ErrorMessage, r.ParentID = errMsg.String, parentID.String
	r.StartedAt, r.CompletedAt = timePtr(startedAt), timePtr(completedAt)
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
