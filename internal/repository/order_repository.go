package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
)

// 注文番号の一意制約違反。リトライ判定に使う。
var ErrDuplicateOrderNumber = errors.New("duplicate order number")

type AdminOrderListFilter struct {
	Page   int
	Limit  int
	Status string
	UserID *int64
	From   *time.Time
	To     *time.Time
}

// ステータス更新時のタイムスタンプ。nilなら触らない。
type StatusTimestamps struct {
	ShippedAt   *time.Time
	DeliveredAt *time.Time
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	Create(ctx context.Context, order model.Order) (int64, error)
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, ts StatusTimestamps) error

	//当日分の注文数（注文番号の連番用）
	CountByNumberPrefix(ctx context.Context, prefix string) (int64, error)

	//同じキーなら同じ結果を返すための検索
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)

	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
}
