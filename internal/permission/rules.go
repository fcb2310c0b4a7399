// Package permission decides whether an actor may perform an action on a
// resource. Callers check before invoking the workflow and signature
// components; those components do not re-derive roles.
package permission

import "rental-docflow/internal/models"

type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionShare    Action = "share"
	ActionComment  Action = "comment"
	ActionCreate   Action = "create"
	ActionAdvance  Action = "advance"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionSign     Action = "sign"
	ActionDecline  Action = "decline"
	ActionResend   Action = "resend"
	ActionRenew    Action = "renew"
	ActionVerify   Action = "verify"
	ActionValidate Action = "validate"
)

type Resource string

const (
	ResourceDocument     Resource = "document"
	ResourceWorkflow     Resource = "workflow"
	ResourceSignature    Resource = "signature"
	ResourceVerification Resource = "verification"
	ResourceCompliance   Resource = "compliance"
	ResourceAuditLog     Resource = "audit_log"
)

// Marker is a symbolic condition resolved against the actor's own ids.
type Marker int

const (
	// Any places no restriction on the field.
	Any Marker = iota
	// Own requires the target id to belong to the actor.
	Own
	// Assigned requires the target property to be one the actor is assigned to.
	Assigned
)

func (m Marker) String() string {
	switch m {
	case Own:
		return "own"
	case Assigned:
		return "assigned"
	default:
		return "any"
	}
}

type Conditions struct {
	PropertyID Marker
	UserID     Marker
	VendorID   Marker
}

// Rule grants Action on Resource when every condition holds.
type Rule struct {
	Action     Action
	Resource   Resource
	Conditions Conditions
}

// Target carries the concrete ids of the resource being accessed.
type Target struct {
	PropertyID string
	UserID     string
	VendorID   string
}

// Permission is one check request.
type Permission struct {
	Action   Action
	Resource Resource
	Target   Target
}

func grant(resource Resource, cond Conditions, actions ...Action) []Rule {
	rules := make([]Rule, len(actions))
	for i, a := range actions {
		rules[i] = Rule{Action: a, Resource: resource, Conditions: cond}
	}
	return rules
}

func concat(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var (
	ownProperty      = Conditions{PropertyID: Own}
	assignedProperty = Conditions{PropertyID: Assigned}
	ownUser          = Conditions{UserID: Own}
	ownVendor        = Conditions{VendorID: Own}
	unrestricted     = Conditions{}
)

// DefaultRules is the role table of the rental platform.
func DefaultRules() map[models.Role][]Rule {
	allDocument := []Action{ActionView, ActionDownload, ActionShare, ActionComment, ActionCreate, ActionApprove, ActionReject, ActionRenew}
	allWorkflow := []Action{ActionView, ActionCreate, ActionAdvance, ActionApprove, ActionReject, ActionValidate, ActionVerify}
	allSignature := []Action{ActionView, ActionCreate, ActionResend, ActionSign, ActionDecline}

	return map[models.Role][]Rule{
		models.RoleAdmin: concat(
			grant(ResourceDocument, unrestricted, allDocument...),
			grant(ResourceWorkflow, unrestricted, allWorkflow...),
			grant(ResourceSignature, unrestricted, allSignature...),
			grant(ResourceVerification, unrestricted, ActionView, ActionCreate, ActionVerify),
			grant(ResourceCompliance, unrestricted, ActionView, ActionValidate),
			grant(ResourceAuditLog, unrestricted, ActionView),
		),
		models.RoleLandlord: concat(
			grant(ResourceDocument, ownProperty, allDocument...),
			grant(ResourceWorkflow, ownProperty, allWorkflow...),
			grant(ResourceSignature, ownProperty, allSignature...),
			grant(ResourceVerification, ownProperty, ActionView, ActionCreate, ActionVerify),
			grant(ResourceCompliance, ownProperty, ActionView, ActionValidate),
			grant(ResourceAuditLog, ownProperty, ActionView),
		),
		models.RoleTenant: concat(
			grant(ResourceDocument, ownUser, ActionView, ActionDownload, ActionComment, ActionCreate),
			grant(ResourceWorkflow, ownUser, ActionView),
			grant(ResourceSignature, ownUser, ActionView, ActionSign, ActionDecline),
			grant(ResourceVerification, ownUser, ActionView),
		),
		models.RoleSuper: concat(
			grant(ResourceDocument, assignedProperty, ActionView, ActionDownload, ActionComment),
			grant(ResourceWorkflow, assignedProperty, ActionView),
		),
		models.RoleVendor: grant(ResourceDocument, ownVendor, ActionView, ActionDownload),
	}
}

// satisfied resolves the markers of c against the actor.
func (c Conditions) satisfied(actor *models.Actor, t Target) bool {
	switch c.PropertyID {
	case Own:
		if !contains(actor.OwnedPropertyIDs, t.PropertyID) {
			return false
		}
	case Assigned:
		if !contains(actor.AssignedPropertyIDs, t.PropertyID) {
			return false
		}
	}
	if c.UserID == Own && (t.UserID == "" || t.UserID != actor.ID) {
		return false
	}
	if c.VendorID == Own && (t.VendorID == "" || t.VendorID != actor.VendorID) {
		return false
	}
	return true
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
