package models

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

// Product timestamps are server-assigned unix seconds and never move
// backwards: updates reuse the stored created_at and stamp a fresh
// updated_at.
type Product struct {
	ID          string `json:"id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// NormalizeStatus defaults empty or unrecognized values to active.
func NormalizeStatus(status string) string {
	if status == ProductStatusInactive {
		return ProductStatusInactive
	}
	return ProductStatusActive
}
