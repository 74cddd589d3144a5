package queue

import (
	"time"

	"github.com/google/uuid"
)

// CallEventMessage reports the outcome of one call attempt. Dispatch-time
// events come from the campaign worker; completion events come from the
// provider webhook handler. The consumer correlates back to the campaign
// contact by id.
type CallEventMessage struct {
	CampaignID        uuid.UUID `json:"campaign_id"`
	CampaignContactID uuid.UUID `json:"campaign_contact_id"`
	AgentID           uuid.UUID `json:"agent_id"`
	ProviderCallID    string    `json:"provider_call_id,omitempty"`
	Status            string    `json:"status"`
	Attempt           int       `json:"attempt"`
	Error             string    `json:"error,omitempty"`
	DurationMs        int64     `json:"duration_ms,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}
