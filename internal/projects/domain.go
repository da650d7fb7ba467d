package projects

import "time"

// Status enumerates project states. Projects are never deleted; cancelled
// and completed act as soft archive states.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusActive, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Project is a fabrication job that procurement and issuance hang off.
type Project struct {
	ID        int64
	Name      string
	Code      string
	Status    Status
	ManagerID int64
	Budget    float64
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry records a mutation of a project's budget, schedule or status.
type HistoryEntry struct {
	ID        int64
	ProjectID int64
	ActorID   int64
	Field     string
	OldValue  string
	NewValue  string
	Note      string
	At        time.Time
}

// ChangeOrderStatus enumerates change order states.
type ChangeOrderStatus string

const (
	ChangeOrderPending   ChangeOrderStatus = "pending"
	ChangeOrderApproved  ChangeOrderStatus = "approved"
	ChangeOrderRejected  ChangeOrderStatus = "rejected"
	ChangeOrderCancelled ChangeOrderStatus = "cancelled"
)

// ChangeOrder extends a project's schedule and budget once approved.
type ChangeOrder struct {
	ID             int64
	Number         string
	ProjectID      int64
	Status         ChangeOrderStatus
	Description    string
	AdditionalDays int
	AdditionalCost float64
	ApproverID     *int64
	ApprovedAt     *time.Time
	Reason         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
