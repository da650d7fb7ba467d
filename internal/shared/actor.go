package shared

// Permission names consulted by lifecycle operations. The HTTP layer resolves
// them through RBAC; services only see the resulting Actor.
const (
	PermProcurementView    = "procurement.view"
	PermProcurementEdit    = "procurement.edit"
	PermProcurementApprove = "procurement.approve"
	PermInventoryView      = "inventory.view"
	PermInventoryApprove   = "inventory.approve"
	PermWarehouseApprove   = "warehouse.approve"
	PermWarehouseConfirm   = "warehouse.confirm"
	PermIssuanceView       = "issuance.view"
	PermIssuanceEdit       = "issuance.edit"
	PermIssuanceApprove    = "issuance.approve"
	PermProjectsView       = "projects.view"
	PermProjectsEdit       = "projects.edit"
	PermProjectsApprove    = "projects.approve"
)

// Actor identifies the user performing a lifecycle operation together with
// their effective permissions. It is threaded explicitly through every
// service call; there is no ambient current-user state.
type Actor struct {
	ID          int64
	Permissions []string
}

// Can reports whether the actor holds the given permission.
func (a Actor) Can(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// System returns an actor used for automated transitions (background jobs).
func System() Actor {
	return Actor{ID: 0, Permissions: []string{
		PermProcurementEdit, PermProcurementApprove,
		PermInventoryApprove, PermWarehouseApprove, PermWarehouseConfirm,
		PermIssuanceEdit, PermIssuanceApprove,
		PermProjectsEdit, PermProjectsApprove,
	}}
}
