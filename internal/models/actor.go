// internal/models/actor.go
package models

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleLandlord Role = "landlord"
	RoleTenant   Role = "tenant"
	RoleSuper    Role = "super"
	RoleVendor   Role = "vendor"
)

// Actor is a user as the permission gate sees it: a role plus the ids the
// symbolic own/assigned conditions resolve against.
type Actor struct {
	ID                  string   `json:"id"`
	Role                Role     `json:"role"`
	Email               string   `json:"email,omitempty"`
	Phone               string   `json:"phone,omitempty"`
	Name                string   `json:"name,omitempty"`
	OwnedPropertyIDs    []string `json:"ownedPropertyIds,omitempty"`
	AssignedPropertyIDs []string `json:"assignedPropertyIds,omitempty"`
	VendorID            string   `json:"vendorId,omitempty"`
}
