package model

import "time"

// ChangeType classifies what a proposed field mutation does to the record.
type ChangeType string

const (
	// ChangeAddition fills a field that currently has no value.
	ChangeAddition ChangeType = "addition"
	// ChangeUpdate refreshes time-sensitive data (pricing) past its staleness window.
	ChangeUpdate ChangeType = "update"
	// ChangeCorrection replaces an existing value with a higher-confidence one.
	ChangeCorrection ChangeType = "correction"
	// ChangeEnhancement canonicalizes an existing value without changing its meaning.
	ChangeEnhancement ChangeType = "enhancement"
)

// Change sources, in ascending trust order. They double as provider names.
const (
	SourceAIAnalysis = "ai_analysis"
	SourceWebScrape  = "web_scrape"
	SourceManual     = "manual"
)

// ApprovalState is the review state of a proposed change.
type ApprovalState string

const (
	// ApprovalAutoSelected marks changes above the auto-select confidence
	// cutoff with no validation errors; still requires admin approval to apply.
	ApprovalAutoSelected ApprovalState = "auto_selected"
	// ApprovalManual marks changes an admin must explicitly opt into.
	ApprovalManual ApprovalState = "manual"
	// ApprovalRejected marks changes an admin declined; never applied.
	ApprovalRejected ApprovalState = "rejected"
	// ApprovalApplied marks changes written to the record; now an audit entry.
	ApprovalApplied ApprovalState = "applied"
)

// Pending reports whether the change still awaits an approval decision.
func (s ApprovalState) Pending() bool {
	return s == ApprovalAutoSelected || s == ApprovalManual
}

// EnhancementChange is one proposed field mutation produced by a completed
// request. Immutable after creation except for its approval state.
type EnhancementChange struct {
	ID               string        `json:"id"`
	RequestID        string        `json:"request_id"`
	FragranceID      string        `json:"fragrance_id"`
	FieldName        string        `json:"field_name"`
	OldValue         any           `json:"old_value,omitempty"`
	NewValue         any           `json:"new_value"`
	ChangeType       ChangeType    `json:"change_type"`
	ConfidenceScore  float64       `json:"confidence_score"`
	Source           string        `json:"source"`
	SourceURL        string        `json:"source_url,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	ValidationErrors []string      `json:"validation_errors,omitempty"`
	ApprovalState    ApprovalState `json:"approval_state"`
	ReviewedBy       string        `json:"reviewed_by,omitempty"`
	RejectReason     string        `json:"reject_reason,omitempty"`
	AppliedAt        *time.Time    `json:"applied_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}
