// Package access decides whether an identity may perform an action on a
// resource, and narrows the protected fields it may see to the minimum
// necessary for the declared purpose of use.
package access

import (
	"fmt"

	"vida-gateway/pkg/domain"
)

// Policy is the closed permission model: every role and purpose in the domain
// enums must appear in every table, which NewEvaluator enforces at startup.
// An unrecognized role or purpose is a construction error, never a silent
// runtime deny.
type Policy struct {
	// RolePermissions maps each role to the actions it may perform.
	RolePermissions map[domain.Role]map[domain.Action]bool

	// RoleFields is the widest protected-field visibility a role can have,
	// before purpose narrowing.
	RoleFields map[domain.Role]domain.FieldSet

	// PurposeFields caps visibility by declared purpose of use. The
	// effective set is the intersection with RoleFields.
	PurposeFields map[domain.Purpose]domain.FieldSet

	// ClassPurposes lists the purposes acceptable for each resource class.
	ClassPurposes map[domain.ResourceClass]map[domain.Purpose]bool

	// MFARequired marks resource classes that demand strong authentication.
	// Absence of the flag on the identity is a hard deny, not a degrade.
	MFARequired map[domain.ResourceClass]bool
}

// DefaultPolicy returns the platform's shipped permission model.
func DefaultPolicy() Policy {
	allFields := make(domain.FieldSet, len(domain.ProtectedFields))
	for _, f := range domain.ProtectedFields {
		allFields[f.Name] = struct{}{}
	}

	return Policy{
		RolePermissions: map[domain.Role]map[domain.Action]bool{
			domain.RoleClinician: {domain.ActionRead: true, domain.ActionWrite: true},
			domain.RoleNurse:     {domain.ActionRead: true, domain.ActionWrite: true},
			domain.RoleAdmin:     {domain.ActionRead: true, domain.ActionAdminister: true},
			domain.RoleBilling:   {domain.ActionRead: true},
			domain.RolePatient:   {domain.ActionRead: true},
			domain.RoleSystem:    {domain.ActionRead: true, domain.ActionWrite: true, domain.ActionBulkExport: true},
		},
		RoleFields: map[domain.Role]domain.FieldSet{
			domain.RoleClinician: allFields,
			domain.RoleNurse: domain.NewFieldSet(
				"identifier_number", "mrn", "contact_phone", "contact_email",
				"address", "date_of_birth", "admission_date", "clinical_notes",
				"discharge_summary",
			),
			domain.RoleAdmin: domain.NewFieldSet("mrn", "admission_date"),
			domain.RoleBilling: domain.NewFieldSet(
				"identifier_number", "mrn", "address", "date_of_birth", "admission_date",
			),
			domain.RolePatient: allFields,
			domain.RoleSystem:  allFields,
		},
		PurposeFields: map[domain.Purpose]domain.FieldSet{
			domain.PurposeTreatment: allFields,
			domain.PurposeCoordination: domain.NewFieldSet(
				"mrn", "contact_phone", "contact_email", "address",
				"admission_date", "discharge_summary",
			),
			domain.PurposeBilling: domain.NewFieldSet(
				"identifier_number", "mrn", "address", "date_of_birth", "admission_date",
			),
			domain.PurposeOperations: domain.NewFieldSet("mrn", "admission_date"),
			// Research consumes de-identified data only.
			domain.PurposeResearch: domain.NewFieldSet(),
		},
		ClassPurposes: map[domain.ResourceClass]map[domain.Purpose]bool{
			domain.ClassStandard: {
				domain.PurposeTreatment: true, domain.PurposeCoordination: true,
				domain.PurposeBilling: true, domain.PurposeOperations: true,
				domain.PurposeResearch: true,
			},
			domain.ClassProtectedSubject: {
				domain.PurposeTreatment: true, domain.PurposeCoordination: true,
				domain.PurposeBilling: true,
			},
			domain.ClassAdministrative: {
				domain.PurposeOperations: true,
			},
			domain.ClassBulk: {
				domain.PurposeOperations: true, domain.PurposeResearch: true,
			},
		},
		MFARequired: map[domain.ResourceClass]bool{
			domain.ClassStandard:         false,
			domain.ClassProtectedSubject: true,
			domain.ClassAdministrative:   true,
			domain.ClassBulk:             false,
		},
	}
}

// validate checks the tables exhaustively against the domain enums so a
// policy gap surfaces at startup.
func (p Policy) validate() error {
	for _, role := range domain.Roles {
		if _, ok := p.RolePermissions[role]; !ok {
			return fmt.Errorf("policy: role %q missing from permission table", role)
		}
		if _, ok := p.RoleFields[role]; !ok {
			return fmt.Errorf("policy: role %q missing from field table", role)
		}
	}
	for _, purpose := range domain.Purposes {
		if _, ok := p.PurposeFields[purpose]; !ok {
			return fmt.Errorf("policy: purpose %q missing from field table", purpose)
		}
	}
	for _, class := range domain.ResourceClasses {
		if _, ok := p.ClassPurposes[class]; !ok {
			return fmt.Errorf("policy: resource class %q missing from purpose table", class)
		}
		if _, ok := p.MFARequired[class]; !ok {
			return fmt.Errorf("policy: resource class %q missing from mfa table", class)
		}
	}
	return nil
}
