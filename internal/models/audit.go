package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionRequestCreate     = "REQUEST_CREATE"
	AuditActionRequestUpdate     = "REQUEST_UPDATE"
	AuditActionRequestDelete     = "REQUEST_DELETE"
	AuditActionRequestTransition = "REQUEST_TRANSITION"
	AuditActionAttachmentAdd     = "ATTACHMENT_ADD"
	AuditActionAttachmentRemove  = "ATTACHMENT_REMOVE"
	AuditActionAttachmentVerify  = "ATTACHMENT_VERIFY"
	AuditActionLineItemDecision  = "LINE_ITEM_DECISION"
)

// AuditResourceRequestForm is the audit resource name for student requests.
const AuditResourceRequestForm = "request_form"

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string          `db:"id" json:"id"`
	UserID     *string         `db:"user_id" json:"user_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *string         `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
