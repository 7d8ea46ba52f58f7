package profile

import (
	"enroll/internal/expr"
	formsmodels "enroll/internal/forms/models"
	"enroll/pkg/domain"
)

// Kind selects the variable contract a profile's expressions see.
type Kind string

const (
	KindInput        Kind = "input"
	KindOutput       Kind = "output"
	KindRegistration Kind = "registration"
	KindEnquiry      Kind = "enquiry"
	KindBulk         Kind = "bulk"
)

// TriggeredBy distinguishes manual processing from auto-processing in the
// expression context.
type TriggeredBy string

const (
	TriggeredManually TriggeredBy = "manual"
	TriggeredAuto     TriggeredBy = "auto"
)

// Input is everything one profile evaluation may observe. The exported
// variable set per kind is a closed contract; expressions referencing
// anything else fail evaluation.
type Input struct {
	Kind      Kind
	RequestID domain.RequestID
	Request   *formsmodels.Request
	Triggered TriggeredBy
	ValidCode bool

	// Input-kind evaluations (remote authentication).
	RemoteIdP        string
	RemoteAttributes map[string][]string

	// Bulk-kind evaluations (existing entities).
	EntityID         domain.EntityID
	EntityAttributes map[string][]string
}

// Vars builds the expression context for the input's kind.
//
// Contract per kind:
//
//	registration/enquiry: attrs, idsByType, groups, agreements, locale,
//	                      requestForm, validCode, triggered, userComment
//	input:                idp, attrs
//	bulk:                 entityId, attrs
//	output:               attrs, idsByType
func (in Input) Vars() expr.Vars {
	switch in.Kind {
	case KindInput:
		return expr.Vars{
			"idp":   in.RemoteIdP,
			"attrs": mapOrEmpty(in.RemoteAttributes),
		}
	case KindBulk:
		return expr.Vars{
			"entityId": in.EntityID.String(),
			"attrs":    mapOrEmpty(in.EntityAttributes),
		}
	case KindOutput:
		return expr.Vars{
			"attrs":     requestAttributes(in.Request),
			"idsByType": requestIdentities(in.Request),
		}
	default: // registration and enquiry share the request contract
		return expr.Vars{
			"attrs":       requestAttributes(in.Request),
			"idsByType":   requestIdentities(in.Request),
			"groups":      requestGroups(in.Request),
			"agreements":  requestAgreements(in.Request),
			"locale":      requestLocale(in.Request),
			"requestForm": requestForm(in.Request),
			"validCode":   in.ValidCode,
			"triggered":   string(in.Triggered),
			"userComment": requestComment(in.Request),
		}
	}
}

func mapOrEmpty(m map[string][]string) map[string][]string {
	if m == nil {
		return map[string][]string{}
	}
	return m
}

func requestAttributes(req *formsmodels.Request) map[string][]string {
	out := map[string][]string{}
	if req == nil {
		return out
	}
	for _, at := range req.Attributes {
		if at != nil {
			out[at.Name] = append(out[at.Name], at.Values...)
		}
	}
	return out
}

func requestIdentities(req *formsmodels.Request) map[string]string {
	out := map[string]string{}
	if req == nil {
		return out
	}
	for _, id := range req.Identities {
		if id != nil {
			if _, taken := out[id.Type]; !taken {
				out[id.Type] = id.Value
			}
		}
	}
	return out
}

func requestGroups(req *formsmodels.Request) []string {
	var out []string
	if req == nil {
		return out
	}
	for _, sel := range req.Groups {
		if sel == nil {
			continue
		}
		for _, p := range sel.Paths {
			out = append(out, p.String())
		}
	}
	return out
}

func requestAgreements(req *formsmodels.Request) []bool {
	var out []bool
	if req == nil {
		return out
	}
	for _, a := range req.Agreements {
		out = append(out, a != nil && a.Accepted)
	}
	return out
}

func requestLocale(req *formsmodels.Request) string {
	if req == nil {
		return ""
	}
	return req.Locale
}

func requestForm(req *formsmodels.Request) string {
	if req == nil {
		return ""
	}
	return req.Form.String()
}

func requestComment(req *formsmodels.Request) string {
	if req == nil {
		return ""
	}
	return req.UserComment
}
