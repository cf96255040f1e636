//go:build integration

package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	catalogpostgres "github.com/querylens/querylens/internal/catalog/postgres"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/engine"
	"github.com/querylens/querylens/internal/migrations"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/sqlguard"
	"github.com/querylens/querylens/internal/warehouse/duckdb"
)

const integrationTable = "dataset_it_sales"

func TestUploadAskReplayAgainstPostgresAndDuckDB(t *testing.T) {
	h, cleanup := newIntegrationHandler(t, fmt.Sprintf("```sql\nSELECT region, SUM(amount) AS total FROM %s GROUP BY region ORDER BY region\n```", integrationTable))
	defer cleanup()

	upload := newUploadRequest(t, "Sales", "sales.csv", "region,amount\nwest,100\neast,80\nwest,20\n")
	upload.Header.Set("X-User-ID", "alice")
	uploadResp := httptest.NewRecorder()
	h.ServeHTTP(uploadResp, upload)
	if uploadResp.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", uploadResp.Code, uploadResp.Body.String())
	}
	dataset := decodeBody(t, uploadResp)
	datasetID := int64(dataset["dataset_id"].(float64))
	if dataset["row_count"] != float64(3) || dataset["column_count"] != float64(2) {
		t.Fatalf("dataset = %#v", dataset)
	}

	askResp := httptest.NewRecorder()
	h.ServeHTTP(askResp, newAskRequest("alice", datasetID, `{"question":"total by region"}`))
	if askResp.Code != http.StatusOK {
		t.Fatalf("ask status = %d, body=%s", askResp.Code, askResp.Body.String())
	}
	answer := decodeBody(t, askResp)
	rows, ok := answer["rows"].([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("rows = %#v", answer["rows"])
	}
	queryID := int64(answer["query_id"].(float64))

	replay := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/queries/%d/replay", queryID), nil)
	replay.Header.Set("X-User-ID", "alice")
	replayResp := httptest.NewRecorder()
	h.ServeHTTP(replayResp, replay)
	if replayResp.Code != http.StatusOK {
		t.Fatalf("replay status = %d, body=%s", replayResp.Code, replayResp.Body.String())
	}
	if got := decodeBody(t, replayResp)["sql"]; got != answer["sql"] {
		t.Fatalf("replay sql = %v, want %v", got, answer["sql"])
	}

	foreign := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/v1/queries/%d/replay", queryID), nil)
	foreign.Header.Set("X-User-ID", "mallory")
	foreignResp := httptest.NewRecorder()
	h.ServeHTTP(foreignResp, foreign)
	if foreignResp.Code != http.StatusNotFound {
		t.Fatalf("foreign replay status = %d", foreignResp.Code)
	}

	overview := httptest.NewRequest(http.MethodGet, "/v1/analytics/overview", nil)
	overview.Header.Set("X-User-ID", "alice")
	overviewResp := httptest.NewRecorder()
	h.ServeHTTP(overviewResp, overview)
	if got := decodeBody(t, overviewResp)["total_queries"]; got != float64(1) {
		t.Fatalf("total_queries = %v", got)
	}
}

func TestAskRejectsDestructiveSQLWithoutRecording(t *testing.T) {
	h, cleanup := newIntegrationHandler(t, "DROP TABLE "+integrationTable)
	defer cleanup()

	upload := newUploadRequest(t, "", "sales.csv", "region,amount\nwest,100\n")
	upload.Header.Set("X-User-ID", "alice")
	uploadResp := httptest.NewRecorder()
	h.ServeHTTP(uploadResp, upload)
	if uploadResp.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", uploadResp.Code, uploadResp.Body.String())
	}
	datasetID := int64(decodeBody(t, uploadResp)["dataset_id"].(float64))

	askResp := httptest.NewRecorder()
	h.ServeHTTP(askResp, newAskRequest("alice", datasetID, `{"question":"drop everything"}`))
	if askResp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("ask status = %d, body=%s", askResp.Code, askResp.Body.String())
	}

	history := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d/queries", datasetID), nil)
	history.Header.Set("X-User-ID", "alice")
	historyResp := httptest.NewRecorder()
	h.ServeHTTP(historyResp, history)
	if queries := decodeBody(t, historyResp)["queries"].([]any); len(queries) != 0 {
		t.Fatalf("queries = %#v, want none", queries)
	}

	schema := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/datasets/%d/schema", datasetID), nil)
	schema.Header.Set("X-User-ID", "alice")
	schemaResp := httptest.NewRecorder()
	h.ServeHTTP(schemaResp, schema)
	if schemaResp.Code != http.StatusOK {
		t.Fatalf("schema status = %d, table should survive rejected SQL", schemaResp.Code)
	}
}

type fixedCompleter string

func (c fixedCompleter) Complete(context.Context, string) (string, error) {
	return string(c), nil
}

func newIntegrationHandler(t *testing.T, reply string) (http.Handler, func()) {
	t.Helper()
	adminDSN := strings.TrimSpace(os.Getenv("QUERYLENS_TEST_CATALOG_DSN"))
	if adminDSN == "" {
		t.Skip("QUERYLENS_TEST_CATALOG_DSN is not set")
	}

	testDSN, dropDatabase := createTemporaryDatabase(t, adminDSN)

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}

	wh, err := duckdb.Open(ctx, config.WarehouseConfig{TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("duckdb.Open() error = %v", err)
	}

	cfg := loadConfig(t, map[string]string{"QUERYLENS_PROFILE": "test"})
	service := &engine.Service{
		Catalog:      catalogpostgres.NewRepository(db),
		Warehouse:    wh,
		Generator:    nl2sql.NewGenerator(fixedCompleter(reply), 5*time.Second),
		Validator:    sqlguard.NewGuard(wh),
		Config:       cfg.Engine,
		SpoolDir:     t.TempDir(),
		NewTableName: func() string { return integrationTable },
	}

	h := NewHandler(cfg, Dependencies{
		Engine:    service,
		Readiness: CombineReadinessChecks(service.HealthCheck),
	})
	cleanup := func() {
		_ = wh.Close()
		_ = db.Close()
		dropDatabase()
	}
	return h, cleanup
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	adminDBName := strings.TrimPrefix(parsed.Path, "/")
	if adminDBName == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("querylens_it_api_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}
