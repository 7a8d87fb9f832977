package usecase

import (
	"context"
	"net/http"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// ダッシュボード。コミット済みの状態だけを読む読み取り専用のusecase。
type ReportUsecase struct {
	reportRepo repo.ReportRepository
	userRepo   repo.UserRepository
}

func NewReportUsecase(reportRepo repo.ReportRepository, userRepo repo.UserRepository) *ReportUsecase {
	return &ReportUsecase{reportRepo: reportRepo, userRepo: userRepo}
}

type RecentOrderOutput struct {
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	TotalAmount int64  `json:"total_amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type DashboardStatsOutput struct {
	TotalProducts    int64                    `json:"total_products"`
	TotalOrders      int64                    `json:"total_orders"`
	TotalCustomers   int64                    `json:"total_customers"`
	TotalRevenue     int64                    `json:"total_revenue"`
	LowStockProducts int64                    `json:"low_stock_products"`
	PendingOrders    int64                    `json:"pending_orders"`
	TopSelling       []repo.TopSellingProduct `json:"top_selling_products"`
	RecentOrders     []RecentOrderOutput      `json:"recent_orders"`
}

const dashboardTopN = 5

func (u *ReportUsecase) DashboardStats(ctx context.Context, adminUserID int64) (DashboardStatsOutput, error) {
	if adminUserID <= 0 {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var out DashboardStatsOutput
	var err error

	if out.TotalProducts, err = u.reportRepo.CountActiveProducts(ctx); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if out.TotalOrders, err = u.reportRepo.CountOrders(ctx); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if out.TotalCustomers, err = u.userRepo.CountActive(ctx); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	//売上は配達完了した注文だけを数える
	if out.TotalRevenue, err = u.reportRepo.SumRevenueByStatus(ctx, model.OrderStatusDelivered); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if out.LowStockProducts, err = u.reportRepo.CountLowStockProducts(ctx); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if out.PendingOrders, err = u.reportRepo.CountOrdersByStatus(ctx, model.OrderStatusPending); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if out.TopSelling, err = u.reportRepo.TopSellingProducts(ctx, dashboardTopN); err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	recent, err := u.reportRepo.RecentOrders(ctx, dashboardTopN)
	if err != nil {
		return DashboardStatsOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	out.RecentOrders = make([]RecentOrderOutput, 0, len(recent))
	for _, o := range recent {
		out.RecentOrders = append(out.RecentOrders, RecentOrderOutput{
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			TotalAmount: o.TotalAmount,
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return out, nil
}
