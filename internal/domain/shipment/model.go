package shipment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("shipment not found")
	ErrAlreadyFinalized = errors.New("shipment is already finalized")
	ErrRatesUnavailable = errors.New("carrier rates unavailable")
	ErrLabelUnavailable = errors.New("carrier label unavailable")
	ErrNoArchivedLabel  = errors.New("no archived label for shipment")
)

const DefaultPackageType = "package"

// Shipment maps to the order_shipment table.
type Shipment struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	OrderID        uuid.UUID           `db:"order_id" json:"order_id"`
	ShippingClass  string              `db:"shipping_class" json:"shipping_class"`
	PackageType    string              `db:"package_type" json:"package_type"`
	WeightOz       decimal.Decimal     `db:"weight_oz" json:"weight_oz"`
	ShipDate       time.Time           `db:"ship_date" json:"ship_date"`
	Rate           decimal.NullDecimal `db:"rate" json:"rate"`
	TrackingNumber string              `db:"tracking_number" json:"tracking_number,omitempty"`
	LabelURL       string              `db:"label_url" json:"label_url,omitempty"`
	LabelKey       string              `db:"label_key" json:"label_key,omitempty"`
	Finalized      bool                `db:"finalized" json:"finalized"`
	FinalizedBy    string              `db:"finalized_by" json:"finalized_by,omitempty"`
	FinalizedAt    *time.Time          `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}
