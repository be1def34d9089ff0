package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument("abc", "abc")

	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Empty(t, doc.Payload)
	assert.NotNil(t, doc.Payload)
	assert.False(t, doc.CreatedAt.IsZero())
	assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)
}

func TestDocument_Flatten(t *testing.T) {
	doc := NewDocument("abc", "abc")
	doc.Status = StatusComplete
	doc.Payload = Payload{"filename": "a.pdf", "vendor_name": "None", "status": "spoofed"}

	flat := doc.Flatten()

	assert.Equal(t, "abc", flat["id"])
	assert.Equal(t, StatusComplete, flat["status"])
	assert.Equal(t, "abc", flat["file_hash"])
	assert.Equal(t, "a.pdf", flat["filename"])
	assert.NotContains(t, flat, "error")
}

func TestPayload_Filename(t *testing.T) {
	assert.Equal(t, "a.pdf", Payload{"filename": "a.pdf"}.Filename())
	assert.Equal(t, "", Payload{"filename": 3}.Filename())
	assert.Equal(t, "", Payload(nil).Filename())
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusComplete.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
