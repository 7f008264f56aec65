package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/model"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

func researchRow(mock pgxmock.PgxPoolIface, id, status string, progress int) *pgxmock.Rows {
	return mock.NewRows(researchColumns).AddRow(
		id, "user-1", "양자 컴퓨팅", "", "full", status,
		1, "Phase 1 분석 중", progress, nil,
		nil, &fixedNow, nil, fixedNow, fixedNow,
	)
}

func TestPostgresStore_CreateResearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research`).
		WithArgs(pgxmock.AnyArg(), "user-1", "topic", "", "quick", "pending", (*string)(nil), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"phase_results"}, []string{"research_id", "phase", "task_id", "task_name", "status"}).
		WillReturnResult(10)
	mock.ExpectCommit()

	r := &model.Research{UserID: "user-1", Topic: "topic", Mode: model.ModeQuick}
	require.NoError(t, s.CreateResearch(context.Background(), r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, fixedNow, r.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateResearch_RollsBackOnCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO research`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"phase_results"}, []string{"research_id", "phase", "task_id", "task_name", "status"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err := s.CreateResearch(context.Background(), &model.Research{UserID: "u", Topic: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO phase_results")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateResearch_Validation(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.CreateResearch(context.Background(), &model.Research{Topic: "t"})
	assert.ErrorContains(t, err, "user_id")
	err = s.CreateResearch(context.Background(), &model.Research{UserID: "u", Topic: "t", Mode: "turbo"})
	assert.ErrorContains(t, err, "invalid mode")
}

func TestPostgresStore_GetResearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, user_id, topic, .* FROM research WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(researchRow(mock, "r1", "phase1", 35))

	r, err := s.GetResearch(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPhase1, r.Status)
	assert.Equal(t, model.ModeFull, r.Mode)
	assert.Equal(t, 35, r.ProgressPercent)
	assert.Empty(t, r.ErrorMessage)
	require.NotNil(t, r.StartedAt)
	assert.Nil(t, r.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResearch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM research WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetResearch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListResearch_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM research WHERE user_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT 5`).
		WithArgs("user-1", "completed").
		WillReturnRows(researchRow(mock, "r1", "completed", 100).AddRow(
			"r2", "user-1", "t2", "d", "quick", "completed",
			4, "", 100, nil, "r1", nil, nil, fixedNow, fixedNow,
		))

	list, err := s.ListResearch(context.Background(), ResearchFilter{UserID: "user-1", Status: model.StatusCompleted, Limit: 5})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[1].ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountActive(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM research WHERE user_id = \$1 AND status IN \(\$2,\$3,\$4,\$5,\$6,\$7\)`).
		WithArgs("user-1", "collecting", "phase1", "phase2", "phase3", "phase4", "finalizing").
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.CountActive(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateResearch_MonotonicProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	status := model.StatusPhase1
	mock.ExpectExec(`UPDATE research SET status = \$1, progress_percent = GREATEST\(progress_percent, \$2\), updated_at = \$3 WHERE id = \$4 AND status NOT IN \(\$5,\$6\)`).
		WithArgs("phase1", 100, fixedNow, "r1", "completed", "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateResearch(context.Background(), "r1", model.ResearchUpdate{
		Status:          &status,
		ProgressPercent: model.Pct(150),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateResearch_Terminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE research SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM research WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(mock.NewRows([]string{"status"}).AddRow("failed"))

	step := "x"
	err := s.UpdateResearch(context.Background(), "r1", model.ResearchUpdate{CurrentStep: &step})
	assert.ErrorIs(t, err, ErrTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateResearch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE research SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM research`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	err := s.UpdateResearch(context.Background(), "nope", model.ResearchUpdate{ProgressPercent: model.Pct(5)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_UpdateTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	content := "[Error] boom"
	mock.ExpectExec(`UPDATE phase_results SET status = \$1, content = \$2 WHERE research_id = \$3 AND task_id = \$4`).
		WithArgs("failed", content, "r1", "1.2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateTask(context.Background(), "r1", "1.2", model.TaskUpdate{Status: model.TaskFailed, Content: &content})
	require.NoError(t, err)

	err = s.UpdateTask(context.Background(), "r1", "1.2", model.TaskUpdate{})
	assert.ErrorContains(t, err, "requires a status")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"sources"}, sourceColumns).WillReturnResult(2)

	err := s.InsertSources(context.Background(), "r1", []model.Source{
		{Provider: model.ProviderOpenAI, Providers: []model.Provider{model.ProviderOpenAI}, URL: "https://a.com"},
		{Provider: model.ProviderGemini, Providers: []model.Provider{model.ProviderGemini, model.ProviderOpenAI}, URL: "https://b.com", CrossValidated: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSources_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.InsertSources(context.Background(), "r1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	conf := 0.9
	mock.ExpectQuery(`SELECT id, research_id, provider, .* FROM sources WHERE research_id = \$1 ORDER BY reliability_score DESC, id`).
		WithArgs("r1").
		WillReturnRows(mock.NewRows(append([]string{"id"}, sourceColumns...)).AddRow(
			int64(7), "r1", "gemini", []string{"gemini", "openai"}, "Title", "https://b.com",
			nil, "news", 0.8, true, nil, "en", &conf, fixedNow,
		))

	list, err := s.ListSources(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []model.Provider{model.ProviderGemini, model.ProviderOpenAI}, list[0].Providers)
	assert.Equal(t, model.SourceNews, list[0].SourceType)
	assert.Equal(t, model.LangEnglish, list[0].Language)
	assert.Empty(t, list[0].Snippet)
	assert.Equal(t, 0.9, *list[0].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertFactChecks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"fact_checks"}, factCheckColumns).WillReturnResult(1)

	text := "confirmed"
	err := s.InsertFactChecks(context.Background(), "r1", []model.FactCheckItem{
		{Phase: 1, Claim: "claim", OpenAIResult: &text, Grade: model.GradeC, Notes: model.GradeC.Note()},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lit := "[0.5,0.25]"
	mock.ExpectExec(`INSERT INTO reports .* \$4::vector .* ON CONFLICT \(research_id\) DO UPDATE`).
		WithArgs("r1", "summary", "full", &lit, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveReport(context.Background(), &model.Report{
		ResearchID: "r1", ExecutiveSummary: "summary", FullReport: "full", Embedding: []float32{0.5, 0.25},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteResearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research SET status = \$1, current_step = \$2, progress_percent = GREATEST\(progress_percent, \$3\), completed_at = \$4, updated_at = \$5 WHERE id = \$6 AND status NOT IN \(\$7,\$8\)`).
		WithArgs("completed", "완료", 100, fixedNow, fixedNow, "r1", "completed", "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO reports`).
		WithArgs("r1", "summary", "full", (*string)(nil), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	step := "완료"
	done := fixedNow
	err := s.CompleteResearch(context.Background(),
		&model.Report{ResearchID: "r1", ExecutiveSummary: "summary", FullReport: "full"},
		model.ResearchUpdate{CurrentStep: &step, ProgressPercent: model.Pct(100), CompletedAt: &done},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteResearch_TerminalWritesNoReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE research SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM research WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(mock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	err := s.CompleteResearch(context.Background(),
		&model.Report{ResearchID: "r1", ExecutiveSummary: "summary", FullReport: "full"},
		model.ResearchUpdate{ProgressPercent: model.Pct(100)},
	)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureShareToken(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE reports SET share_token = COALESCE\(share_token, \$1\)`).
		WithArgs(pgxmock.AnyArg(), "r1").
		WillReturnRows(mock.NewRows([]string{"share_token"}).AddRow("existing-token"))

	token, err := s.EnsureShareToken(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "existing-token", token)

	mock.ExpectQuery(`UPDATE reports SET share_token`).
		WithArgs(pgxmock.AnyArg(), "r2").
		WillReturnError(pgx.ErrNoRows)
	_, err = s.EnsureShareToken(context.Background(), "r2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchReports(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`1 - \(r.embedding <=> \$1::vector\)`).
		WithArgs("[1,0]", "user-1", 0.7, 10).
		WillReturnRows(mock.NewRows([]string{"research_id", "topic", "executive_summary", "similarity"}).
			AddRow("r1", "topic", "summary", 0.93))

	matches, err := s.SearchReports(context.Background(), SearchQuery{
		UserID: "user-1", Embedding: []float32{1, 0}, Threshold: 0.7,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.93, matches[0].Similarity, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteResearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM research WHERE id = \$1`).WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM research WHERE id = \$1`).WithArgs("r2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteResearch(context.Background(), "r1"))
	assert.ErrorIs(t, s.DeleteResearch(context.Background(), "r2"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDetail_NoReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM research WHERE id = \$1`).WithArgs("r1").
		WillReturnRows(researchRow(mock, "r1", "phase2", 45))
	mock.ExpectQuery(`FROM sources`).WithArgs("r1").
		WillReturnRows(mock.NewRows(append([]string{"id"}, sourceColumns...)))
	mock.ExpectQuery(`FROM phase_results`).WithArgs("r1").
		WillReturnRows(mock.NewRows(taskColumns).AddRow(
			"r1", 1, "1.1", "핵심 인사이트 및 통념 타파", "completed", "content", "claude-sonnet-4-6", &fixedNow, &fixedNow,
		))
	mock.ExpectQuery(`FROM fact_checks`).WithArgs("r1").
		WillReturnRows(mock.NewRows(append([]string{"id"}, factCheckColumns...)))
	mock.ExpectQuery(`FROM reports WHERE research_id = \$1`).WithArgs("r1").
		WillReturnError(pgx.ErrNoRows)

	d, err := s.GetDetail(context.Background(), "r1")
	require.NoError(t, err)
	assert.Nil(t, d.Report)
	require.Len(t, d.Tasks, 1)
	assert.Equal(t, model.TaskCompleted, d.Tasks[0].Status)
	assert.Equal(t, "content", d.Tasks[0].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}
