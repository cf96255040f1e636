package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@-]{0,127}$`)

// DatasetArchiveKey returns datasets/<user>/<table>.<ext>.
func DatasetArchiveKey(userID, tableName, extension string) (string, error) {
	if err := validateKeyComponent(userID, "user id"); err != nil {
		return "", err
	}
	if err := validateKeyComponent(tableName, "table name"); err != nil {
		return "", err
	}
	extension = strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if extension == "" {
		return "", fmt.Errorf("extension is required")
	}
	if err := validateKeyComponent(extension, "extension"); err != nil {
		return "", err
	}
	return path.Join("datasets", userID, tableName+"."+extension), nil
}

// ContentTypeFor maps a source extension to the MIME type stored with the
// archived object.
func ContentTypeFor(extension string) string {
	switch strings.ToLower(strings.TrimPrefix(extension, ".")) {
	case "csv":
		return "text/csv"
	case "parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
