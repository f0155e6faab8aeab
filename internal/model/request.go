package model

import "time"

// RequestType identifies which enhancement sources a request uses.
type RequestType string

const (
	RequestTypeAIAnalysis RequestType = "ai_analysis"
	RequestTypeWebScrape  RequestType = "web_scrape"
	RequestTypeHybrid     RequestType = "hybrid"
	RequestTypeManual     RequestType = "manual"
)

// ValidRequestType reports whether t is a known request type.
func ValidRequestType(t RequestType) bool {
	switch t {
	case RequestTypeAIAnalysis, RequestTypeWebScrape, RequestTypeHybrid, RequestTypeManual:
		return true
	}
	return false
}

// Automated reports whether the request type is machine-driven. Automated
// requests can never touch verified fields.
func (t RequestType) Automated() bool {
	return t != RequestTypeManual
}

// RequestStatus is the lifecycle state of an enhancement request.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether the status is immutable. A failed request is
// retryable only by re-creation as a new pending request.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	}
	return false
}

// validTransitions encodes the request lifecycle:
// pending → processing → {completed | failed}; {pending, processing} → cancelled.
var validTransitions = map[RequestStatus]map[RequestStatus]bool{
	RequestStatusPending: {
		RequestStatusProcessing: true,
		RequestStatusCancelled:  true,
	},
	RequestStatusProcessing: {
		RequestStatusCompleted: true,
		RequestStatusFailed:    true,
		RequestStatusCancelled: true,
	},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	return validTransitions[from][to]
}

// Priority bounds: 1 is most urgent, 10 least.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
	PriorityDefault = 5
)

// DefaultConfidenceThreshold is the auto-select cutoff a request falls back
// to when none is supplied.
const DefaultConfidenceThreshold = 0.8

// EnhancementRequest is a single unit of enhancement work against one
// fragrance record.
type EnhancementRequest struct {
	ID                  string        `json:"id"`
	FragranceID         string        `json:"fragrance_id"`
	Type                RequestType   `json:"type"`
	Priority            int           `json:"priority"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	Status              RequestStatus `json:"status"`
	AdminID             string        `json:"admin_id"`
	ProcessingNotes     string        `json:"processing_notes,omitempty"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	EstimatedCost       float64       `json:"estimated_cost"`
	ActualCost          float64       `json:"actual_cost"`
	CompletenessBefore  *float64      `json:"completeness_before,omitempty"`
	CompletenessAfter   *float64      `json:"completeness_after,omitempty"`
	AppliedCount        int           `json:"applied_count"`
	RetryOf             string        `json:"retry_of,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
}

// PriorityLevel selects candidates for a smart enhancement job.
type PriorityLevel string

const (
	PriorityLowQuality      PriorityLevel = "low_quality"
	PriorityMissingData     PriorityLevel = "missing_data"
	PriorityUnverified      PriorityLevel = "unverified"
	PriorityOutdatedPricing PriorityLevel = "outdated_pricing"
)

// ValidPriorityLevel reports whether l is a known smart-job priority level.
func ValidPriorityLevel(l PriorityLevel) bool {
	switch l {
	case PriorityLowQuality, PriorityMissingData, PriorityUnverified, PriorityOutdatedPricing:
		return true
	}
	return false
}
