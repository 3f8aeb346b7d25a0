package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record maps to the audit_log table. One row is written synchronously for
// every case state transition, assessment write, and advice submission, in
// the same transaction as the change it describes.
type Record struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Action     string          `db:"action" json:"action"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID *uuid.UUID      `db:"resource_id" json:"resource_id,omitempty"`
	IPAddress  *string         `db:"ip_address" json:"ip_address,omitempty"`
	RequestID  *string         `db:"request_id" json:"request_id,omitempty"`
	OldValues  json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Action verbs used across the service.
const (
	ActionCaseCreate      = "case.create"
	ActionCaseTransition  = "case.transition"
	ActionAssessmentWrite = "assessment.write"
	ActionEscalationMint  = "escalation.mint"
	ActionTokenConsume    = "escalation.consume"
	ActionTokenRevoke     = "escalation.revoke"
	ActionAdviceAppend    = "advice.append"
	ActionRequestFailed   = "request.failed"
)
