package procurement

import (
	"time"
)

// PRStatus enumerates purchase request states.
type PRStatus string

const (
	PRDraft     PRStatus = "draft"
	PRSubmitted PRStatus = "submitted"
	PRApproved  PRStatus = "approved"
	PRRejected  PRStatus = "rejected"
	PRConverted PRStatus = "converted_to_po"
	PRCancelled PRStatus = "cancelled"
)

// QuotationStatus enumerates quotation states.
type QuotationStatus string

const (
	QuotationPending  QuotationStatus = "pending"
	QuotationAccepted QuotationStatus = "accepted"
	QuotationRejected QuotationStatus = "rejected"
)

// POStatus enumerates purchase order states.
type POStatus string

const (
	PODraft     POStatus = "draft"
	POPending   POStatus = "pending"
	POApproved  POStatus = "approved"
	POCompleted POStatus = "completed"
	POCancelled POStatus = "cancelled"
)

// GRStatus enumerates goods receipt states.
type GRStatus string

const (
	GRDraft             GRStatus = "draft"
	GRPending           GRStatus = "pending"
	GRWarehouseApproved GRStatus = "warehouse_approved"
	GRApproved          GRStatus = "approved"
	GRRejected          GRStatus = "rejected"
	GRCancelled         GRStatus = "cancelled"
)

// ReturnStatus enumerates goods return states.
type ReturnStatus string

const (
	ReturnPending   ReturnStatus = "pending"
	ReturnApproved  ReturnStatus = "approved"
	ReturnCancelled ReturnStatus = "cancelled"
)

// PurchaseRequest records demand for materials against a project.
type PurchaseRequest struct {
	ID           int64
	Number       string
	ProjectID    int64
	Purpose      string
	Status       PRStatus
	RequesterID  int64
	ApproverID   *int64
	ApprovedAt   *time.Time
	CancelReason string
	Items        []PRItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PRItem is one requested line.
type PRItem struct {
	ID             int64
	RequestID      int64
	ItemID         int64
	Quantity       float64
	UnitCost       float64
	Specifications string
}

// Quotation is a supplier's priced answer to a purchase request.
type Quotation struct {
	ID          int64
	Number      string
	RequestID   int64
	SupplierID  int64
	Status      QuotationStatus
	ValidUntil  time.Time
	TotalAmount float64
	Items       []QuotationItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QuotationItem is one priced line.
type QuotationItem struct {
	ID          int64
	QuotationID int64
	ItemID      int64
	Quantity    float64
	UnitPrice   float64
	TotalPrice  float64
}

// PurchaseOrder commits to buying the accepted quotation's lines.
type PurchaseOrder struct {
	ID              int64
	Number          string
	RequestID       int64
	QuotationID     int64
	Status          POStatus
	DeliveryAddress string
	Subtotal        float64
	TaxAmount       float64
	TotalAmount     float64
	ApproverID      *int64
	ApprovedAt      *time.Time
	CancelReason    string
	Items           []POItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// POItem mirrors a quotation line on the order.
type POItem struct {
	ID         int64
	OrderID    int64
	ItemID     int64
	SupplierID int64
	Quantity   float64
	UnitPrice  float64
	TotalPrice float64
}

// GoodsReceipt records physical arrival of ordered goods.
type GoodsReceipt struct {
	ID                  int64
	Number              string
	OrderID             int64
	Status              GRStatus
	DeliveryNote        string
	Feedback            string
	WarehouseApproverID *int64
	WarehouseApprovedAt *time.Time
	InventoryApproverID *int64
	InventoryApprovedAt *time.Time
	CancelReason        string
	Items               []GRItem
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// GRItem carries the received/accepted/rejected split for one order line.
type GRItem struct {
	ID               int64
	ReceiptID        int64
	OrderItemID      int64
	ItemID           int64
	QuantityOrdered  float64
	QuantityReceived float64
	QuantityAccepted float64
	QuantityRejected float64
	UnitCost         float64
	RejectionReason  string
}

// GoodsReturn sends rejected receipt quantities back to the supplier.
type GoodsReturn struct {
	ID           int64
	Number       string
	ReceiptID    int64
	Status       ReturnStatus
	ApproverID   *int64
	ApprovedAt   *time.Time
	CancelReason string
	Items        []ReturnItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReturnItem is one returned line.
type ReturnItem struct {
	ID            int64
	ReturnID      int64
	ReceiptItemID int64
	ItemID        int64
	Quantity      float64
	Reason        string
}
