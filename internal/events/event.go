// Package events fans post-commit request events out to observers.
package events

import "aocr/internal/domain"

type Type string

const (
	RequestCreated      Type = "request.created"
	RequestTransitioned Type = "request.transitioned"
	RequestAssigned     Type = "request.assigned"
)

// Event describes a committed change to a request.
type Event struct {
	ID        string        `json:"id"`
	Type      Type          `json:"type"`
	RequestID int64         `json:"request_id"`
	Number    string        `json:"number"`
	From      *domain.State `json:"from,omitempty"`
	To        domain.State  `json:"to"`
	ActorID   string        `json:"actor_id"`
	Reason    string        `json:"reason,omitempty"`
	TS        string        `json:"ts"`
	Version   int64         `json:"version"`
}
