package domain

// State is the lifecycle position of a request.
type State string

const (
	StateDraft              State = "Draft"
	StateSent               State = "Sent"
	StateFinanceInReview    State = "FinanceInReview"
	StateFinanceApproved    State = "FinanceApproved"
	StateTechnicalInReview  State = "TechnicalInReview"
	StateTechnicalValidated State = "TechnicalValidated"
	StateLegalInReview      State = "LegalInReview"
	StateLegalized          State = "Legalized"
	StateObserved           State = "Observed"
	StateRejected           State = "Rejected"
	StateWithdrawn          State = "Withdrawn"
)

// States lists every state in lifecycle order.
var States = []State{
	StateDraft,
	StateSent,
	StateFinanceInReview,
	StateFinanceApproved,
	StateTechnicalInReview,
	StateTechnicalValidated,
	StateLegalInReview,
	StateLegalized,
	StateObserved,
	StateRejected,
	StateWithdrawn,
}

func (s State) String() string { return string(s) }

// IsValid reports whether s is one of the enumerated states.
func (s State) IsValid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave s.
func (s State) IsTerminal() bool {
	return s == StateLegalized || s == StateRejected || s == StateWithdrawn
}

// Request is the certification case (solicitud).
type Request struct {
	ID           int64   `json:"id"`
	Number       string  `json:"number" example:"AOCR-2025-00012"`
	Type         string  `json:"type"`
	Title        string  `json:"title,omitempty"`
	OwnerID      string  `json:"owner_id"`
	State        State   `json:"state" enum:"Draft,Sent,FinanceInReview,FinanceApproved,TechnicalInReview,TechnicalValidated,LegalInReview,Legalized,Observed,Rejected,Withdrawn"`
	Version      int64   `json:"version"`
	TechnicianID *string `json:"technician_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	CreatedBy    string  `json:"created_by"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	UpdatedBy    string  `json:"updated_by"`
	DeletedAt    *string `json:"deleted_at,omitempty" format:"date-time"`
}

// TransitionRecord is one immutable audit ledger entry (historial de estado).
type TransitionRecord struct {
	ID        int64  `json:"id"`
	RequestID int64  `json:"request_id"`
	From      *State `json:"from,omitempty"`
	To        State  `json:"to"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

// ReviewStatus is the approval sub-state shared by documents and payments.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "Pending"
	ReviewApproved ReviewStatus = "Approved"
	ReviewRejected ReviewStatus = "Rejected"
)

func (s ReviewStatus) IsValid() bool {
	return s == ReviewPending || s == ReviewApproved || s == ReviewRejected
}

type Document struct {
	ID         int64        `json:"id"`
	RequestID  int64        `json:"request_id"`
	Kind       string       `json:"kind"`
	Name       string       `json:"name"`
	Status     ReviewStatus `json:"status" enum:"Pending,Approved,Rejected"`
	ReviewerID *string      `json:"reviewer_id,omitempty"`
	Note       string       `json:"note,omitempty"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
	UpdatedAt  string       `json:"updated_at" format:"date-time"`
}

// DocumentAggregate summarises the documents of one request.
type DocumentAggregate struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Complete reports whether every document is approved and at least one exists.
func (a DocumentAggregate) Complete() bool {
	return a.Total > 0 && a.Approved == a.Total
}

type Payment struct {
	ID         int64        `json:"id"`
	RequestID  int64        `json:"request_id"`
	Amount     int64        `json:"amount" doc:"amount in minor currency units"`
	Reference  string       `json:"reference,omitempty"`
	Status     ReviewStatus `json:"status" enum:"Pending,Approved,Rejected"`
	ReviewerID *string      `json:"reviewer_id,omitempty"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
	UpdatedAt  string       `json:"updated_at" format:"date-time"`
}

type InspectionStatus string

const (
	InspectionOpen   InspectionStatus = "Open"
	InspectionClosed InspectionStatus = "Closed"
)

type InspectionResult string

const (
	ResultApproved InspectionResult = "Approved"
	ResultRejected InspectionResult = "Rejected"
)

func (r InspectionResult) IsValid() bool {
	return r == ResultApproved || r == ResultRejected
}

type Inspection struct {
	ID          int64             `json:"id"`
	RequestID   int64             `json:"request_id"`
	InspectorID string            `json:"inspector_id"`
	Status      InspectionStatus  `json:"status" enum:"Open,Closed"`
	Result      *InspectionResult `json:"result,omitempty" enum:"Approved,Rejected"`
	OpenedAt    string            `json:"opened_at" format:"date-time"`
	ClosedAt    *string           `json:"closed_at,omitempty" format:"date-time"`
}

// InspectionSummary is the latest inspection of a request plus its open findings.
type InspectionSummary struct {
	InspectionID int64             `json:"inspection_id"`
	Closed       bool              `json:"closed"`
	Result       *InspectionResult `json:"result,omitempty"`
	OpenFindings int               `json:"open_findings"`
}

type FindingStatus string

const (
	FindingOpen   FindingStatus = "Open"
	FindingClosed FindingStatus = "Closed"
)

// Finding (hallazgo) is an observation raised during an inspection.
type Finding struct {
	ID           int64         `json:"id"`
	InspectionID int64         `json:"inspection_id"`
	Description  string        `json:"description"`
	Status       FindingStatus `json:"status" enum:"Open,Closed"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	ClosedAt     *string       `json:"closed_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActorRole grants a named role to an actor.
type ActorRole struct {
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	GrantedBy string `json:"granted_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Edge is a permitted (from, to) pair in the transition table.
type Edge struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e Edge) String() string { return string(e.From) + "->" + string(e.To) }

// GateResult is the outcome of one gate evaluation; it is never persisted.
type GateResult struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Passed is the passing GateResult.
func Passed() GateResult { return GateResult{Pass: true} }

// Failed returns a failing GateResult with an operator-readable reason.
func Failed(reason string) GateResult { return GateResult{Reason: reason} }
