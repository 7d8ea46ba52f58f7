package profile

import "enroll/pkg/domain"

// Decision is the auto-processing verdict a profile may produce.
type Decision string

const (
	DecisionNone   Decision = ""
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionDrop   Decision = "drop"
)

// ParseDecision validates an action parameter naming a decision.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionAccept, DecisionReject, DecisionDrop:
		return Decision(s), true
	}
	return DecisionNone, false
}

// MappedIdentity is a final identity produced by rule evaluation. Source
// optionally names the originating external IdP or embedded profile.
type MappedIdentity struct {
	Type   string
	Value  string
	Source string
}

// MappedAttribute is a final attribute targeted at a group.
type MappedAttribute struct {
	Name   string
	Values []string
	Group  domain.GroupPath
	Source string
}

// MappedGroup is a final group membership.
type MappedGroup struct {
	Path   domain.GroupPath
	Source string
}

// InvitationDirective asks the orchestrator to merge matching invitations
// during acceptance. An empty Form matches invitations for any form.
type InvitationDirective struct {
	Form domain.FormName
}

// Result accumulates the outcome of one profile evaluation. Values are
// never mutated in place: actions return an updated copy, which keeps the
// merge and last-rule-wins semantics auditable.
type Result struct {
	Identities            []MappedIdentity
	Attributes            []MappedAttribute
	Groups                []MappedGroup
	AttributeClasses      map[domain.GroupPath][]string
	CredentialRequirement string
	EntityState           string
	AutoProcess           Decision
	Invitations           *InvitationDirective
}

func (r Result) withIdentity(id MappedIdentity) Result {
	r.Identities = append(r.Identities[:len(r.Identities):len(r.Identities)], id)
	return r
}

func (r Result) withAttribute(at MappedAttribute) Result {
	r.Attributes = append(r.Attributes[:len(r.Attributes):len(r.Attributes)], at)
	return r
}

func (r Result) withGroup(g MappedGroup) Result {
	r.Groups = append(r.Groups[:len(r.Groups):len(r.Groups)], g)
	return r
}

func (r Result) withAttributeClasses(group domain.GroupPath, classes []string) Result {
	merged := make(map[domain.GroupPath][]string, len(r.AttributeClasses)+1)
	for k, v := range r.AttributeClasses {
		merged[k] = v
	}
	merged[group] = append(append([]string(nil), merged[group]...), classes...)
	r.AttributeClasses = merged
	return r
}

// merge splices an embedded profile's result into the parent accumulator.
// List-valued fields concatenate; scalar decision fields follow last-wins,
// where "last" is the embedded profile when it set a value.
func (r Result) merge(sub Result) Result {
	out := r
	out.Identities = append(append([]MappedIdentity(nil), r.Identities...), sub.Identities...)
	out.Attributes = append(append([]MappedAttribute(nil), r.Attributes...), sub.Attributes...)
	out.Groups = append(append([]MappedGroup(nil), r.Groups...), sub.Groups...)
	for group, classes := range sub.AttributeClasses {
		out = out.withAttributeClasses(group, classes)
	}
	if sub.CredentialRequirement != "" {
		out.CredentialRequirement = sub.CredentialRequirement
	}
	if sub.EntityState != "" {
		out.EntityState = sub.EntityState
	}
	if sub.AutoProcess != DecisionNone {
		out.AutoProcess = sub.AutoProcess
	}
	if sub.Invitations != nil {
		out.Invitations = sub.Invitations
	}
	return out
}

// GroupPaths returns the distinct requested group paths.
func (r Result) GroupPaths() []domain.GroupPath {
	seen := make(map[domain.GroupPath]bool, len(r.Groups))
	var out []domain.GroupPath
	for _, g := range r.Groups {
		if !seen[g.Path] {
			seen[g.Path] = true
			out = append(out, g.Path)
		}
	}
	return out
}
