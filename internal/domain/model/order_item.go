package model

import "time"

// 注文明細。親注文と同時に作られ、以後は不変。
// 単価・商品名・SKUは注文時点のスナップショットで、後のカタログ変更に追従しない。
type OrderItem struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64     `gorm:"not null;index" json:"order_id"`
	ProductID           int64     `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string    `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	SKUSnapshot         string    `gorm:"type:varchar(50);not null" json:"sku_snapshot"`
	UnitPrice           int64     `gorm:"not null" json:"unit_price"`
	Quantity            int64     `gorm:"not null" json:"quantity"`
	TotalPrice          int64     `gorm:"not null" json:"total_price"`
	CreatedAt           time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
