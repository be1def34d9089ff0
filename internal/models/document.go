package models

import "time"

// Status represents the processing status of a document record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s
// other than an idempotent repeat of the same transition.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Payload holds the fields produced by extraction. Empty while processing.
type Payload map[string]any

// Filename returns the denormalized filename field, if present.
func (p Payload) Filename() string {
	if v, ok := p["filename"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the payload. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Document is the per-uploaded-file record, keyed by ID.
type Document struct {
	ID          string    `json:"id" msgpack:"id"`
	Status      Status    `json:"status" msgpack:"status"`
	Fingerprint string    `json:"file_hash" msgpack:"file_hash"`
	Payload     Payload   `json:"payload" msgpack:"payload"`
	Error       string    `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" msgpack:"updated_at"`
}

// NewDocument creates a record in processing status with an empty payload.
func NewDocument(id, fingerprint string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:          id,
		Status:      StatusProcessing,
		Fingerprint: fingerprint,
		Payload:     Payload{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Flatten returns the document as a single flat object: the bookkeeping
// fields followed by the payload fields. Payload keys never override the
// bookkeeping ones.
func (d *Document) Flatten() map[string]any {
	out := make(map[string]any, len(d.Payload)+4)
	for k, v := range d.Payload {
		out[k] = v
	}
	out["id"] = d.ID
	out["status"] = d.Status
	out["file_hash"] = d.Fingerprint
	if d.Error != "" {
		out["error"] = d.Error
	}
	return out
}

// StatusEntry is the id/status projection used by status listings.
type StatusEntry struct {
	ID     string `json:"id" msgpack:"id"`
	Status Status `json:"status" msgpack:"status"`
}
