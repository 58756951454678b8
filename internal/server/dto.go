package server

import (
	"aocr/internal/domain"
	"aocr/internal/engine"
	"aocr/internal/subflows"
)

// Request payloads

type CreateRequestBody struct {
	Type    string `json:"type" minLength:"1" maxLength:"64" example:"escuela-aviacion"`
	Title   string `json:"title,omitempty" maxLength:"255"`
	OwnerID string `json:"owner_id,omitempty" doc:"Applicant; defaults to the caller. Operators may register on behalf of others."`
}

type TransitionBody struct {
	Target domain.State `json:"target" enum:"Draft,Sent,FinanceInReview,FinanceApproved,TechnicalInReview,TechnicalValidated,LegalInReview,Legalized,Observed,Rejected,Withdrawn"`
	Reason string       `json:"reason,omitempty" maxLength:"1000"`
}

type AssignBody struct {
	TechnicianID string `json:"technician_id" minLength:"1"`
}

type SubordinateEventBody struct {
	Kind string `json:"kind" enum:"documents-complete,payment-approved,inspection-closed"`
}

type AddDocumentBody struct {
	Kind string `json:"kind" minLength:"1" maxLength:"64" example:"certificado-operador"`
	Name string `json:"name" minLength:"1" maxLength:"255"`
}

type ReviewDocumentBody struct {
	Status domain.ReviewStatus `json:"status" enum:"Approved,Rejected"`
	Note   string              `json:"note,omitempty" maxLength:"1000"`
}

type AddPaymentBody struct {
	Amount    int64  `json:"amount" minimum:"1" doc:"amount in minor currency units"`
	Reference string `json:"reference,omitempty" maxLength:"128"`
}

type ReviewPaymentBody struct {
	Status domain.ReviewStatus `json:"status" enum:"Approved,Rejected"`
}

type CloseInspectionBody struct {
	Result domain.InspectionResult `json:"result" enum:"Approved,Rejected"`
}

type AddFindingBody struct {
	Description string `json:"description" minLength:"1" maxLength:"2000"`
}

type RoleChangeBody struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role" minLength:"1"`
}

type CreateAPIKeyBody struct {
	ActorID string `json:"actor_id,omitempty" doc:"defaults to the caller"`
	Name    string `json:"name,omitempty" maxLength:"64"`
}

type DevLoginBody struct {
	ActorID string   `json:"actor_id" minLength:"1"`
	Roles   []string `json:"roles,omitempty"`
}

// Responses

type RequestPage struct {
	Items      []domain.Request `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type DocumentResponse struct {
	Document domain.Document  `json:"document"`
	Trigger  *subflows.Fired `json:"trigger,omitempty"`
}

type PaymentResponse struct {
	Payment domain.Payment  `json:"payment"`
	Trigger *subflows.Fired `json:"trigger,omitempty"`
}

type InspectionResponse struct {
	Inspection domain.Inspection `json:"inspection"`
	Trigger    *subflows.Fired   `json:"trigger,omitempty"`
}

type FindingResponse struct {
	Finding domain.Finding  `json:"finding"`
	Trigger *subflows.Fired `json:"trigger,omitempty"`
}

type AvailableResponse struct {
	RequestID int64           `json:"request_id"`
	State     domain.State    `json:"state"`
	Options   []engine.Option `json:"options"`
}

type MeResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty" doc:"plaintext key; returned only on creation"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: plain, CreatedAt: k.CreatedAt}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
