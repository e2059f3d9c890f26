// Package policy is the single source of truth for who may perform which
// write or read on which resource kind.
//
// Rather than scattering ownership checks across handlers, every operation is
// declared once in a table mapping {resource, action} to the relationship the
// actor must hold. Handlers evaluate the table uniformly, so an undeclared
// operation is denied rather than accidentally open.
package policy

import (
	"fmt"

	"github.com/quarryhq/quarry/pkg/auth"
)

// Resource is a kind of entity the policy governs.
type Resource string

const (
	ResourceContentType Resource = "content_type"
	ResourceEntry       Resource = "entry"
	ResourceUser        Resource = "user"
	ResourceAPIKey      Resource = "api_key"
	ResourceAuditLog    Resource = "audit_log"
)

// Action is an operation on a resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionPublish    Action = "publish"
	ActionDelete     Action = "delete"
	ActionAssignRole Action = "assign_role"
)

// Relationship is the standing an actor must have toward the resource.
type Relationship int

const (
	// AnyActor requires only an authenticated identity.
	AnyActor Relationship = iota
	// Owner requires the actor to own the resource (for entries, the
	// owner of the entry's content type).
	Owner
	// Admin requires the admin role.
	Admin
)

func (r Relationship) String() string {
	switch r {
	case AnyActor:
		return "authenticated"
	case Owner:
		return "owner"
	case Admin:
		return "admin"
	}
	return fmt.Sprintf("relationship(%d)", int(r))
}

type rule struct {
	resource Resource
	action   Action
}

// table declares the complete access policy. Entry delete is the one entry
// operation gated on content-type ownership; create/update/publish are open
// to any authenticated actor.
var table = map[rule]Relationship{
	{ResourceContentType, ActionRead}:   AnyActor,
	{ResourceContentType, ActionCreate}: AnyActor,
	{ResourceContentType, ActionUpdate}: Owner,
	{ResourceContentType, ActionDelete}: Owner,

	{ResourceEntry, ActionRead}:    AnyActor,
	{ResourceEntry, ActionCreate}:  AnyActor,
	{ResourceEntry, ActionUpdate}:  AnyActor,
	{ResourceEntry, ActionPublish}: AnyActor,
	{ResourceEntry, ActionDelete}:  Owner,

	{ResourceUser, ActionRead}:       AnyActor,
	{ResourceUser, ActionCreate}:     Admin,
	{ResourceUser, ActionAssignRole}: Admin,

	{ResourceAPIKey, ActionRead}:   AnyActor,
	{ResourceAPIKey, ActionCreate}: Admin,
	{ResourceAPIKey, ActionDelete}: Admin,

	{ResourceAuditLog, ActionRead}: Admin,
}

// Decision is the outcome of evaluating the table for one operation.
type Decision struct {
	Allowed  bool
	Required Relationship
	Reason   string
}

// Evaluate checks whether identity may perform action on a resource owned by
// ownerEmail. ownerEmail is ignored unless the rule requires Owner.
func Evaluate(resource Resource, action Action, identity *auth.Identity, ownerEmail string) Decision {
	required, declared := table[rule{resource, action}]
	if !declared {
		return Decision{Allowed: false, Reason: fmt.Sprintf("no policy for %s %s", action, resource)}
	}
	if identity == nil {
		return Decision{Allowed: false, Required: required, Reason: "no authenticated identity"}
	}

	switch required {
	case AnyActor:
		return Decision{Allowed: true, Required: required}
	case Owner:
		if identity.Email == ownerEmail {
			return Decision{Allowed: true, Required: required}
		}
		return Decision{Allowed: false, Required: required, Reason: "actor is not the owner"}
	case Admin:
		if identity.IsAdmin() {
			return Decision{Allowed: true, Required: required}
		}
		return Decision{Allowed: false, Required: required, Reason: "admin role required"}
	}
	return Decision{Allowed: false, Required: required, Reason: "unknown relationship"}
}
