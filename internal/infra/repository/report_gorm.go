package repository

import (
	"context"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
)

// 読み取り専用。書き込みは一切しない。
type ReportGormRepository struct {
	db *gorm.DB
}

func NewReportGormRepository(db *gorm.DB) *ReportGormRepository {
	return &ReportGormRepository{db: db}
}

func (r *ReportGormRepository) CountActiveProducts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("is_active = ?", true).
		Count(&count).Error
	return count, err
}

func (r *ReportGormRepository) CountOrders(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Count(&count).Error
	return count, err
}

func (r *ReportGormRepository) CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *ReportGormRepository) SumRevenueByStatus(ctx context.Context, status model.OrderStatus) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ?", status).
		Select("COALESCE(SUM(total_amount), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *ReportGormRepository) CountLowStockProducts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).
		Where("is_active = ?", true).
		Where("stock <= reorder_level").
		Count(&count).Error
	return count, err
}

// 数量合計の降順で上位n件
func (r *ReportGormRepository) TopSellingProducts(ctx context.Context, n int) ([]repo.TopSellingProduct, error) {
	var rows []repo.TopSellingProduct
	err := r.db.WithContext(ctx).Model(&model.OrderItem{}).
		Select("product_id, product_name_snapshot AS product_name, SUM(quantity) AS total_sold, SUM(total_price) AS revenue").
		Group("product_id, product_name_snapshot").
		Order("total_sold DESC").
		Limit(n).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ReportGormRepository) RecentOrders(ctx context.Context, n int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Order("created_at desc").Order("id desc").
		Limit(n).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
