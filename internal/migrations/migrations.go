package migrations

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var initialSchema string

// GetInitialSchema returns the initial database schema
func GetInitialSchema() (string, error) {
	if strings.TrimSpace(initialSchema) == "" {
		return "", fmt.Errorf("embedded schema is empty")
	}
	return initialSchema, nil
}
