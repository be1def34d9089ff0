// Package extract turns a staged PDF path into a structured record.
package extract

import (
	"path/filepath"

	"github.com/pdf-intake/backend/internal/models"
)

// PlaceholderValue is the value the placeholder extractor emits for every
// business field.
const PlaceholderValue = "None"

// BusinessFields are the named fields every extraction record carries in
// addition to filename.
var BusinessFields = []string{
	"vendor_name",
	"vendor_invoice_id",
	"invoice_date",
	"vendor_tax_id",
	"vendor_registration_number",
	"purchase_order_number",
	"bank_name",
	"bank_account_number",
	"bank_branch_code",
	"bank_sort_code",
	"account_holder_name",
	"net_amount",
	"total_amount",
	"tax_amount",
	"address",
	"object_id",
	"extraction_time",
}

// Placeholder builds the fixed-shape record for path without reading it.
func Placeholder(path string) models.Payload {
	rec := models.Payload{"filename": filepath.Base(path)}
	for _, f := range BusinessFields {
		rec[f] = PlaceholderValue
	}
	return rec
}

// recordSchema is the JSON Schema an extractor's output must satisfy.
func recordSchema() map[string]any {
	props := map[string]any{
		"filename": map[string]any{"type": "string", "minLength": 1},
	}
	required := []string{"filename"}
	for _, f := range BusinessFields {
		props[f] = map[string]any{"type": []string{"string", "null"}}
		required = append(required, f)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
