package telephony

import (
	"context"

	"github.com/google/uuid"
)

// CallStatus is the provider-reported state of an initiated call.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusFailed    CallStatus = "failed"
)

// CallInfo identifies a call placed with a provider.
type CallInfo struct {
	CallID string
	Status CallStatus
}

// CallRequest carries everything a provider needs to place one call.
type CallRequest struct {
	ToNumber   string
	FromNumber string
	WebhookURL string
	AgentID    uuid.UUID
}

// Provider abstracts an outbound telephony integration.
type Provider interface {
	// Name identifies the provider; it keys the circuit breaker guarding it.
	Name() string
	// InitiateCall places an outbound call and returns the provider call id
	// used to correlate status callbacks.
	InitiateCall(ctx context.Context, req CallRequest) (CallInfo, error)
}
