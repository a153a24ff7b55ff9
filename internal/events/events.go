package events

// Credit and generation event types.
const (
	EventCreditsReserved     = "credits.reserved"
	EventCreditsRefunded     = "credits.refunded"
	EventCreditsToppedUp     = "credits.topped_up"
	EventGenerationCompleted = "generation.completed"
	EventGenerationAborted   = "generation.aborted"
)

// GenerationRunPayload captures the minimal data needed to follow up on a
// finished pipeline run.
type GenerationRunPayload struct {
	RunID           string `json:"run_id"`
	CampaignID      string `json:"campaign_id"`
	Status          string `json:"status"`
	TasksSucceeded  int    `json:"tasks_succeeded"`
	TasksFailed     int    `json:"tasks_failed"`
	CreditsSpent    int64  `json:"credits_spent"`
	CreditsRefunded int64  `json:"credits_refunded"`
}

// Map renders the payload for the outbox event envelope.
func (p GenerationRunPayload) Map() map[string]any {
	return map[string]any{
		"run_id":           p.RunID,
		"campaign_id":      p.CampaignID,
		"status":           p.Status,
		"tasks_succeeded":  p.TasksSucceeded,
		"tasks_failed":     p.TasksFailed,
		"credits_spent":    p.CreditsSpent,
		"credits_refunded": p.CreditsRefunded,
	}
}
