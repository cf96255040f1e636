package warehouse

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

var parquetMagic = []byte("PAR1")

func (f Format) Extension() string {
	return "." + string(f)
}

// DetectFormat picks the loader for an upload from its file name and the
// first bytes of its content. Anything that is not Parquet is read as CSV.
func DetectFormat(fileName string, head []byte) Format {
	if bytes.HasPrefix(head, parquetMagic) {
		return FormatParquet
	}
	if strings.EqualFold(filepath.Ext(fileName), ".parquet") {
		return FormatParquet
	}
	return FormatCSV
}

// ParquetInfo is read from the file footer without loading row groups.
type ParquetInfo struct {
	Columns  []string
	NumRows  int64
	RowGroup int
}

func InspectParquet(path string) (ParquetInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("open parquet source: %w", err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("stat parquet source: %w", err)
	}
	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	fields := pf.Schema().Fields()
	if len(fields) == 0 {
		return ParquetInfo{}, fmt.Errorf("%w: parquet schema has no columns", ErrInvalidSource)
	}
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, field.Name())
	}
	return ParquetInfo{
		Columns:  columns,
		NumRows:  pf.NumRows(),
		RowGroup: len(pf.RowGroups()),
	}, nil
}
