// internal/db/check.go
package db

import (
	"fmt"
)

// requiredTables must all exist before the process accepts any traffic.
var requiredTables = []string{
	"users",
	"identity_options",
	"receiving_addresses",
	"transactions",
	"accepted_payments",
	"rejected_payments",
	"attestation_units",
	"signed_messages",
}

// CheckSchema verifies the migrations produced every table the core queries.
// A missing table is a startup error, not something to limp along with.
func CheckSchema() error {
	var names []string
	err := DB.Raw(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_name IN ?",
		requiredTables,
	).Scan(&names).Error
	if err != nil {
		return fmt.Errorf("error checking schema: %w", err)
	}

	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	for _, table := range requiredTables {
		if !present[table] {
			return fmt.Errorf("schema not provisioned: table %s is missing", table)
		}
	}
	return nil
}
