package engine

import (
	"aocr/internal/domain"
	"aocr/internal/engine/auth"
	"aocr/internal/engine/gates"
)

// Role names. Owner and System are derived from the actor, never granted.
const (
	RoleOwner           = auth.OwnerRole
	RoleSystem          = auth.SystemRole
	RoleAdministrador   = auth.AdminRole
	RoleOperador        = "Operador"
	RoleFinanciero      = "Financiero"
	RoleTecnico         = "Tecnico"
	RoleJefaturaTecnica = "JefaturaTecnica"
	RoleLegal           = "Legal"
)

// SystemActor is the actor id used for machine-triggered transitions.
const SystemActor = auth.SystemActorID

// Gate names in evaluation order.
const (
	GateDocuments  = gates.DocumentCompleteness
	GatePayment    = gates.PaymentApproval
	GateInspection = gates.InspectionClosure
)

// Rule is one row of the transition table.
type Rule struct {
	Edge  domain.Edge
	Roles []string
	Gates []string
}

// Machine reports whether the trigger dispatcher may drive this edge.
func (r Rule) Machine() bool {
	return r.allows(RoleSystem)
}

func (r Rule) allows(role string) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

var (
	financeReviewers   = []string{RoleFinanciero, RoleAdministrador}
	technicalReviewers = []string{RoleTecnico, RoleJefaturaTecnica, RoleAdministrador}
	legalReviewers     = []string{RoleLegal, RoleAdministrador}
)

func withSystem(roles []string) []string {
	return append(append([]string{}, roles...), RoleSystem)
}

// reviewers maps each review state to the group that may observe or reject it.
var reviewers = map[domain.State][]string{
	domain.StateSent:               financeReviewers,
	domain.StateFinanceInReview:    financeReviewers,
	domain.StateFinanceApproved:    technicalReviewers,
	domain.StateTechnicalInReview:  technicalReviewers,
	domain.StateTechnicalValidated: legalReviewers,
	domain.StateLegalInReview:      legalReviewers,
}

var table = buildTable()

func buildTable() map[domain.Edge]Rule {
	rules := []Rule{
		{Edge: edge(domain.StateDraft, domain.StateSent), Roles: []string{RoleOwner}},
		{Edge: edge(domain.StateSent, domain.StateFinanceInReview), Roles: withSystem(financeReviewers), Gates: []string{GateDocuments}},
		{Edge: edge(domain.StateFinanceInReview, domain.StateFinanceApproved), Roles: withSystem(financeReviewers), Gates: []string{GatePayment}},
		{Edge: edge(domain.StateFinanceApproved, domain.StateTechnicalInReview), Roles: technicalReviewers},
		{Edge: edge(domain.StateTechnicalInReview, domain.StateTechnicalValidated), Roles: withSystem(technicalReviewers), Gates: []string{GateInspection}},
		{Edge: edge(domain.StateTechnicalValidated, domain.StateLegalInReview), Roles: legalReviewers},
		{Edge: edge(domain.StateLegalInReview, domain.StateLegalized), Roles: legalReviewers},
		{Edge: edge(domain.StateObserved, domain.StateDraft), Roles: []string{RoleOwner}},
	}
	for state, group := range reviewers {
		rules = append(rules,
			Rule{Edge: edge(state, domain.StateObserved), Roles: group},
			Rule{Edge: edge(state, domain.StateRejected), Roles: group},
		)
	}
	for _, state := range domain.States {
		if state.IsTerminal() {
			continue
		}
		rules = append(rules, Rule{Edge: edge(state, domain.StateWithdrawn), Roles: []string{RoleOwner}})
	}

	out := make(map[domain.Edge]Rule, len(rules))
	for _, r := range rules {
		out[r.Edge] = r
	}
	return out
}

func edge(from, to domain.State) domain.Edge {
	return domain.Edge{From: from, To: to}
}

// Lookup returns the rule for an edge.
func Lookup(from, to domain.State) (Rule, bool) {
	r, ok := table[edge(from, to)]
	return r, ok
}

// RulesFrom returns the outgoing rules of a state in lifecycle order of their target.
func RulesFrom(from domain.State) []Rule {
	var out []Rule
	for _, to := range domain.States {
		if r, ok := table[edge(from, to)]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Rules returns the full table ordered by source then target state.
func Rules() []Rule {
	var out []Rule
	for _, from := range domain.States {
		out = append(out, RulesFrom(from)...)
	}
	return out
}

// Reachable returns every state reachable from start, start included.
func Reachable(start domain.State) map[domain.State]bool {
	seen := map[domain.State]bool{start: true}
	queue := []domain.State{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range RulesFrom(cur) {
			if !seen[r.Edge.To] {
				seen[r.Edge.To] = true
				queue = append(queue, r.Edge.To)
			}
		}
	}
	return seen
}
