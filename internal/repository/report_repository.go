package repository

import (
	"context"

	"app/internal/domain/model"
)

// 売れ筋商品の集計結果
type TopSellingProduct struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	TotalSold   int64  `json:"total_sold"`
	Revenue     int64  `json:"revenue"`
}

// ダッシュボード用の読み取り専用クエリ。
// コミット済みの状態だけを読む。書き込みは一切しない。
type ReportRepository interface {
	CountActiveProducts(ctx context.Context) (int64, error)
	CountOrders(ctx context.Context) (int64, error)
	CountOrdersByStatus(ctx context.Context, status model.OrderStatus) (int64, error)

	//売上はDELIVERED注文のtotal_amountの合計
	SumRevenueByStatus(ctx context.Context, status model.OrderStatus) (int64, error)

	//在庫が発注点以下のアクティブ商品数
	CountLowStockProducts(ctx context.Context) (int64, error)

	//数量合計の降順で上位n件
	TopSellingProducts(ctx context.Context, n int) ([]TopSellingProduct, error)

	//作成日時の降順で直近n件
	RecentOrders(ctx context.Context, n int) ([]model.Order, error)
}
