package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/warehouse"
)

const salesCSV = `region,amount,sold_on
north,10.5,2026-01-02
south,20,2026-01-03
north,4.5,2026-01-04
east,7,2026-01-05
west,1,2026-01-06
south,3,2026-01-07
north,2,2026-01-08
`

func newTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	w, err := Open(context.Background(), config.WarehouseConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeTempFile(t *testing.T, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func loadSales(t *testing.T, w *Warehouse, table string) warehouse.LoadResult {
	t.Helper()
	result, err := w.CreateTableFromFile(context.Background(), warehouse.LoadRequest{
		TableName: table,
		Path:      writeTempFile(t, "sales.csv", []byte(salesCSV)),
		Format:    warehouse.FormatCSV,
	})
	if err != nil {
		t.Fatalf("CreateTableFromFile() error = %v", err)
	}
	return result
}

func TestCreateTableFromCSVInfersColumns(t *testing.T) {
	w := newTestWarehouse(t)
	result := loadSales(t, w, "dataset_aaaaaaaaaaaa")
	if result.RowCount != 7 || result.ColumnCount != 3 {
		t.Fatalf("LoadResult = %+v, want 7 rows and 3 columns", result)
	}

	schema, err := w.SampleSchema(context.Background(), "dataset_aaaaaaaaaaaa", 5)
	if err != nil {
		t.Fatalf("SampleSchema() error = %v", err)
	}
	if len(schema.Columns) != 3 {
		t.Fatalf("columns = %d, want 3", len(schema.Columns))
	}
	wantNames := []string{"region", "amount", "sold_on"}
	for i, column := range schema.Columns {
		if column.Name != wantNames[i] {
			t.Fatalf("column[%d] = %q, want %q", i, column.Name, wantNames[i])
		}
		if column.Type == "" {
			t.Fatalf("column[%d] has empty type", i)
		}
	}
	if schema.Columns[0].Type != "VARCHAR" {
		t.Fatalf("region type = %q, want VARCHAR", schema.Columns[0].Type)
	}
	if schema.Columns[1].Type != "DOUBLE" {
		t.Fatalf("amount type = %q, want DOUBLE", schema.Columns[1].Type)
	}
	if len(schema.Sample) != 5 {
		t.Fatalf("sample rows = %d, want 5", len(schema.Sample))
	}
}

func TestCreateTableRefusesExistingName(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_bbbbbbbbbbbb")

	_, err := w.CreateTableFromFile(context.Background(), warehouse.LoadRequest{
		TableName: "dataset_bbbbbbbbbbbb",
		Path:      writeTempFile(t, "other.csv", []byte("a\n1\n")),
		Format:    warehouse.FormatCSV,
	})
	if !errors.Is(err, warehouse.ErrTableExists) {
		t.Fatalf("CreateTableFromFile() error = %v, want ErrTableExists", err)
	}

	var count int64
	if err := w.db.QueryRow(`SELECT COUNT(*) FROM "dataset_bbbbbbbbbbbb"`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 7 {
		t.Fatalf("existing table row count = %d, want 7", count)
	}
}

func TestCreateTableFromMissingFileIsInvalidSource(t *testing.T) {
	w := newTestWarehouse(t)
	_, err := w.CreateTableFromFile(context.Background(), warehouse.LoadRequest{
		TableName: "dataset_cccccccccccc",
		Path:      filepath.Join(t.TempDir(), "missing.csv"),
		Format:    warehouse.FormatCSV,
	})
	if !errors.Is(err, warehouse.ErrInvalidSource) {
		t.Fatalf("CreateTableFromFile() error = %v, want ErrInvalidSource", err)
	}
}

type parquetSale struct {
	Region string  `parquet:"region"`
	Amount float64 `parquet:"amount"`
}

func TestCreateTableFromParquet(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetSale](buf)
	if _, err := writer.Write([]parquetSale{{Region: "north", Amount: 1}, {Region: "south", Amount: 2}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	w := newTestWarehouse(t)
	result, err := w.CreateTableFromFile(context.Background(), warehouse.LoadRequest{
		TableName: "dataset_dddddddddddd",
		Path:      writeTempFile(t, "sales.parquet", buf.Bytes()),
		Format:    warehouse.FormatParquet,
	})
	if err != nil {
		t.Fatalf("CreateTableFromFile() error = %v", err)
	}
	if result.RowCount != 2 || result.ColumnCount != 2 {
		t.Fatalf("LoadResult = %+v", result)
	}
}

func TestQueryReturnsRowsAsMaps(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_eeeeeeeeeeee")

	result, err := w.Query(context.Background(), warehouse.QueryRequest{
		SQL: `SELECT "region", SUM("amount") AS total FROM "dataset_eeeeeeeeeeee" GROUP BY "region" ORDER BY "region";`,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "region" || result.Columns[1] != "total" {
		t.Fatalf("Columns = %#v", result.Columns)
	}
	if len(result.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(result.Rows))
	}
	if result.Rows[0]["region"] != "east" || result.Rows[0]["total"] != 7.0 {
		t.Fatalf("rows[0] = %#v", result.Rows[0])
	}
	if result.Duration <= 0 {
		t.Fatalf("Duration = %s", result.Duration)
	}
}

func TestQueryAppliesRowLimit(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_ffffffffffff")

	result, err := w.Query(context.Background(), warehouse.QueryRequest{
		SQL:      `SELECT * FROM "dataset_ffffffffffff"`,
		RowLimit: 3,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(result.Rows))
	}
}

func TestQueryRowLimitKeepsTrailingLineComment(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_ffffffffffff")

	result, err := w.Query(context.Background(), warehouse.QueryRequest{
		SQL:      `SELECT "region", SUM("amount") AS total FROM "dataset_ffffffffffff" GROUP BY "region" -- totals per region`,
		RowLimit: 5000,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) == 0 {
		t.Fatal("Query() returned no rows")
	}
}

func TestQueryReturnsNonFiniteFloatsAsStrings(t *testing.T) {
	w := newTestWarehouse(t)
	result, err := w.Query(context.Background(), warehouse.QueryRequest{
		SQL:      `SELECT 'NaN'::DOUBLE AS nan_value, 'inf'::DOUBLE AS inf_value, 1.5::DOUBLE AS finite`,
		RowLimit: 10,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	row := result.Rows[0]
	if row["nan_value"] != "NaN" || row["inf_value"] != "+Inf" || row["finite"] != 1.5 {
		t.Fatalf("row = %#v", row)
	}
	if _, err := json.Marshal(result.Rows); err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
}

func TestQueryNeverPersistsChanges(t *testing.T) {
	w := newTestWarehouse(t)
	if _, err := w.Query(context.Background(), warehouse.QueryRequest{SQL: `CREATE TABLE leaked AS SELECT 1 AS x`}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	exists, err := w.tableExists(context.Background(), "leaked")
	if err != nil {
		t.Fatalf("tableExists() error = %v", err)
	}
	if exists {
		t.Fatal("table created inside Query should have been rolled back")
	}
}

func TestDropTableThenSampleReportsNotFound(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_121212121212")

	if err := w.DropTable(context.Background(), "dataset_121212121212"); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}
	if err := w.DropTable(context.Background(), "dataset_121212121212"); err != nil {
		t.Fatalf("second DropTable() error = %v", err)
	}
	_, err := w.SampleSchema(context.Background(), "dataset_121212121212", 5)
	if !errors.Is(err, warehouse.ErrTableNotFound) {
		t.Fatalf("SampleSchema() error = %v, want ErrTableNotFound", err)
	}

	_, err = w.Query(context.Background(), warehouse.QueryRequest{SQL: `SELECT * FROM "dataset_121212121212"`})
	if err == nil {
		t.Fatal("Query() against dropped table should fail")
	}
}

func TestListTablesFiltersByPrefix(t *testing.T) {
	w := newTestWarehouse(t)
	loadSales(t, w, "dataset_bbbbbbbbbbbb")
	loadSales(t, w, "dataset_aaaaaaaaaaaa")
	loadSales(t, w, "scratch")

	names, err := w.ListTables(context.Background(), "dataset_")
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(names) != 2 || names[0] != "dataset_aaaaaaaaaaaa" || names[1] != "dataset_bbbbbbbbbbbb" {
		t.Fatalf("names = %#v", names)
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := normalizeValue("VARCHAR", []byte("abc")); got != "abc" {
		t.Fatalf("normalizeValue([]byte) = %#v", got)
	}
	id := []byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78}
	if got := normalizeValue("UUID", id); got != "12345678-1234-5678-1234-567812345678" {
		t.Fatalf("normalizeValue(uuid) = %#v", got)
	}
	if got := normalizeValue("DOUBLE", sql.NullFloat64{}); got != (sql.NullFloat64{}) {
		t.Fatalf("normalizeValue(passthrough) = %#v", got)
	}
	if got := normalizeValue("DOUBLE", math.Inf(-1)); got != "-Inf" {
		t.Fatalf("normalizeValue(-Inf) = %#v", got)
	}
	if got := normalizeValue("FLOAT", float32(math.NaN())); got != "NaN" {
		t.Fatalf("normalizeValue(NaN) = %#v", got)
	}
	nested := normalizeValue("STRUCT", map[string]any{"k": []any{[]byte("v")}})
	if nested.(map[string]any)["k"].([]any)[0] != "v" {
		t.Fatalf("normalizeValue(nested) = %#v", nested)
	}
}
