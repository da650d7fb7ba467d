package issuance

import "time"

// Status enumerates issuance states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusIssued    Status = "issued"
	StatusCancelled Status = "cancelled"
)

// DeliveryStatus tracks handover after issuing. It only moves while the
// issuance itself is issued.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryReceived  DeliveryStatus = "received"
)

// Type classifies what the materials are drawn for.
type Type string

const (
	TypeProject     Type = "project"
	TypeMaintenance Type = "maintenance"
	TypeGeneral     Type = "general"
	TypeRepair      Type = "repair"
	TypeOther       Type = "other"
)

// Valid reports whether the issuance type is known.
func (t Type) Valid() bool {
	switch t {
	case TypeProject, TypeMaintenance, TypeGeneral, TypeRepair, TypeOther:
		return true
	}
	return false
}

// MaterialIssuance draws stock out of the warehouse, optionally for a
// project.
type MaterialIssuance struct {
	ID             int64
	Number         string
	ProjectID      *int64
	Type           Type
	Purpose        string
	Status         Status
	DeliveryStatus DeliveryStatus
	RequesterID    int64
	ApproverID     *int64
	ApprovedAt     *time.Time
	IssuerID       *int64
	IssuedAt       *time.Time
	ReceiverID     *int64
	ReceivedAt     *time.Time
	CancelReason   string
	Items          []Item
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one issued line.
type Item struct {
	ID         int64
	IssuanceID int64
	ItemID     int64
	Quantity   float64
	UnitCost   float64
}
