package model

import (
	"time"

	"gorm.io/gorm"
)

// 金額は最小単位（セント）のint64。floatは使わない。

type Product struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU          string         `gorm:"type:varchar(50);not null;uniqueIndex" json:"sku"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	Price        int64          `gorm:"not null" json:"price"`
	SalePrice    *int64         `json:"sale_price"`
	Stock        int64          `gorm:"not null" json:"stock"`
	ReorderLevel int64          `gorm:"not null;default:10" json:"reorder_level"`
	IsActive     bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// 販売単価。セール価格があればそちら。
func (p Product) SellingPrice() int64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// 在庫が発注点以下か
func (p Product) IsLowStock() bool {
	return p.Stock <= p.ReorderLevel
}
