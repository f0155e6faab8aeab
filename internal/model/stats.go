package model

// QueueStats is a read-side projection of request lifecycle state.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// PipelineStats is a read-side projection over requests, changes, and records.
type PipelineStats struct {
	QueueStats
	SuccessRate               float64 `json:"success_rate"`
	AvgProcessingTimeMinutes  float64 `json:"avg_processing_time_minutes"`
	PendingApprovals          int     `json:"pending_approvals"`
	TotalCostSpent            float64 `json:"total_cost_spent"`
	AverageQualityImprovement float64 `json:"average_quality_improvement"`
}
