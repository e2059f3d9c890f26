package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarryhq/quarry/pkg/auth"
)

var (
	admin    = &auth.Identity{Email: "admin@example.com", RoleID: auth.RoleAdmin}
	employee = &auth.Identity{Email: "employee@example.com", RoleID: auth.RoleEmployee}
)

func TestEvaluate_NoIdentity(t *testing.T) {
	decision := Evaluate(ResourceEntry, ActionRead, nil, "")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no authenticated identity", decision.Reason)
}

func TestEvaluate_UndeclaredOperationDenied(t *testing.T) {
	decision := Evaluate(ResourceAuditLog, ActionDelete, admin, "")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "no policy")
}

func TestEvaluate_AnyActor(t *testing.T) {
	for _, tc := range []struct {
		resource Resource
		action   Action
	}{
		{ResourceContentType, ActionRead},
		{ResourceContentType, ActionCreate},
		{ResourceEntry, ActionCreate},
		{ResourceEntry, ActionUpdate},
		{ResourceEntry, ActionPublish},
		{ResourceUser, ActionRead},
		{ResourceAPIKey, ActionRead},
	} {
		decision := Evaluate(tc.resource, tc.action, employee, "")
		assert.True(t, decision.Allowed, "%s %s should be open to any actor", tc.action, tc.resource)
	}
}

func TestEvaluate_OwnerGated(t *testing.T) {
	// The owner may delete
	decision := Evaluate(ResourceContentType, ActionDelete, employee, "employee@example.com")
	assert.True(t, decision.Allowed)

	// Anyone else may not, including admins
	decision = Evaluate(ResourceContentType, ActionDelete, admin, "employee@example.com")
	assert.False(t, decision.Allowed)
	assert.Equal(t, Owner, decision.Required)
	assert.Equal(t, "actor is not the owner", decision.Reason)

	decision = Evaluate(ResourceEntry, ActionDelete, employee, "someone-else@example.com")
	assert.False(t, decision.Allowed)
}

func TestEvaluate_AdminGated(t *testing.T) {
	for _, tc := range []struct {
		resource Resource
		action   Action
	}{
		{ResourceUser, ActionCreate},
		{ResourceUser, ActionAssignRole},
		{ResourceAPIKey, ActionCreate},
		{ResourceAPIKey, ActionDelete},
		{ResourceAuditLog, ActionRead},
	} {
		assert.True(t, Evaluate(tc.resource, tc.action, admin, "").Allowed,
			"%s %s should be open to admins", tc.action, tc.resource)

		decision := Evaluate(tc.resource, tc.action, employee, "")
		assert.False(t, decision.Allowed, "%s %s should be closed to employees", tc.action, tc.resource)
		assert.Equal(t, "admin role required", decision.Reason)
	}
}

func TestRelationshipString(t *testing.T) {
	assert.Equal(t, "authenticated", AnyActor.String())
	assert.Equal(t, "owner", Owner.String())
	assert.Equal(t, "admin", Admin.String())
}
