package model

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ステータス文字列が既知のものか
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return OrderStatus(s), true
	}
	return "", false
}

// 終端ステータス（これ以上遷移できない）
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// 遷移表。
// PENDING → PROCESSING → SHIPPED → DELIVERED
// PENDING / PROCESSING → CANCELLED
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusProcessing || next == OrderStatusCancelled
	case OrderStatusProcessing:
		return next == OrderStatusShipped || next == OrderStatusCancelled
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	}
	return false
}

type Order struct {
	ID             int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber    string      `gorm:"type:varchar(20);not null;uniqueIndex" json:"order_number"`
	UserID         int64       `gorm:"not null;index" json:"user_id"`
	Status         OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	SubTotal       int64       `gorm:"not null" json:"subtotal"`
	TaxAmount      int64       `gorm:"not null" json:"tax_amount"`
	ShippingAmount int64       `gorm:"not null" json:"shipping_amount"`
	TotalAmount    int64       `gorm:"not null" json:"total_amount"`
	IdempotencyKey string      `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`

	//配送先は注文時点のスナップショット。住所編集が過去の注文に波及しないようコピーで持つ。
	ShippingStreet  string `gorm:"type:varchar(200);not null" json:"shipping_street"`
	ShippingCity    string `gorm:"type:varchar(100);not null" json:"shipping_city"`
	ShippingState   string `gorm:"type:varchar(100);not null" json:"shipping_state"`
	ShippingZipCode string `gorm:"type:varchar(20);not null" json:"shipping_zip_code"`
	ShippingCountry string `gorm:"type:varchar(100);not null" json:"shipping_country"`

	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
}
