package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/pricing"
	repo "app/internal/repository"

	"github.com/google/uuid"
)

// 在庫不足・商品なし・非公開で予約に失敗したときの型付きエラー。
// 呼び出し側が「どの商品が」「いくつ足りないか」を見て対応できるようにする。
type StockUnavailableError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("stock unavailable: product %d requested %d available %d",
		e.ProductID, e.Requested, e.Available)
}

func AsStockUnavailable(err error) (*StockUnavailableError, bool) {
	var se *StockUnavailableError
	ok := errors.As(err, &se)
	return se, ok
}

type OrderUsecase struct {
	tx        repo.TransactionManager
	auditRepo repo.AuditLogRepository
	policy    pricing.Policy
}

func NewOrderUsecase(tx repo.TransactionManager, auditRepo repo.AuditLogRepository, policy pricing.Policy) *OrderUsecase {
	return &OrderUsecase{tx: tx, auditRepo: auditRepo, policy: policy}
}

type OrderLineInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type ShippingAddressInput struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

type PlaceOrderInput struct {
	Items           []OrderLineInput
	ShippingAddress ShippingAddressInput
	IdempotencyKey  string
}

type OrderItemOutput struct {
	ProductID  int64  `json:"product_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UnitPrice  int64  `json:"unit_price"`
	Quantity   int64  `json:"quantity"`
	TotalPrice int64  `json:"total_price"`
}

type OrderOutput struct {
	ID             int64             `json:"id"`
	OrderNumber    string            `json:"order_number"`
	UserID         int64             `json:"user_id"`
	Status         string            `json:"status"`
	SubTotal       int64             `json:"subtotal"`
	TaxAmount      int64             `json:"tax_amount"`
	ShippingAmount int64             `json:"shipping_amount"`
	TotalAmount    int64             `json:"total_amount"`
	CreatedAt      time.Time         `json:"created_at"`
	ShippedAt      *time.Time        `json:"shipped_at"`
	DeliveredAt    *time.Time        `json:"delivered_at"`
	Items          []OrderItemOutput `json:"items"`
}

// 注文番号の衝突（同時作成で同じ連番を引いた）だけをリトライする回数
const orderNumberRetries = 3

// PlaceOrder は注文作成の一連の流れ：
// 検証 → 在庫予約（商品ID昇順）→ 価格計算 → 注文番号発行 → 注文+明細insert。
// 全体が1トランザクションなので、途中のどの失敗でも予約ごと巻き戻る。
// 外から見えるのは「注文と予約が両方ある」か「どちらもない」かだけ。
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "items required")
	}
	seen := make(map[int64]bool, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID <= 0 {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
		}
		if it.Quantity < 1 {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "quantity must be >= 1")
		}
		if seen[it.ProductID] {
			return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "duplicate product_id")
		}
		seen[it.ProductID] = true
	}
	if err := validateAddress(in.ShippingAddress); err != nil {
		return OrderOutput{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}

	var out OrderOutput
	var err error
	for attempt := 0; attempt < orderNumberRetries; attempt++ {
		out, err = u.placeOrderOnce(ctx, userID, key, in)
		if !errors.Is(err, repo.ErrDuplicateOrderNumber) {
			break
		}
	}
	if errors.Is(err, repo.ErrDuplicateOrderNumber) {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if err != nil {
		return OrderOutput{}, err
	}

	//監査ログはコミット後にベストエフォートで書く。失敗しても注文は成立する。
	if auditErr := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  userID,
		Action:       model.AuditActionCreateOrder,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   out.ID,
		AfterJSON:    fmt.Sprintf(`{"order_number":%q,"total_amount":%d}`, out.OrderNumber, out.TotalAmount),
		CreatedAt:    time.Now(),
	}); auditErr != nil {
		log.Printf("audit log create failed: %v", auditErr)
	}

	return out, nil
}

func (u *OrderUsecase) placeOrderOnce(ctx context.Context, userID int64, key string, in PlaceOrderInput) (OrderOutput, error) {
	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら既存の注文をそのまま返す
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		//商品ID昇順で予約する。複数商品注文が同時に走ってもロック順が揃う。
		lines := make([]OrderLineInput, len(in.Items))
		copy(lines, in.Items)
		sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

		orderItems := make([]model.OrderItem, 0, len(lines))
		quoteLines := make([]pricing.Line, 0, len(lines))
		now := time.Now()

		for _, ln := range lines {
			p, err := r.Products().FindByID(ctx, ln.ProductID)
			if err == repo.ErrNotFound {
				return &StockUnavailableError{ProductID: ln.ProductID, Requested: ln.Quantity, Available: 0}
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !p.IsActive {
				return &StockUnavailableError{ProductID: ln.ProductID, Requested: ln.Quantity, Available: 0}
			}

			//在庫予約。失敗したらerrorを返してtxごと巻き戻す（＝先行予約の解放）。
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, ln.ProductID, ln.Quantity)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok {
				return &StockUnavailableError{ProductID: ln.ProductID, Requested: ln.Quantity, Available: p.Stock}
			}

			//単価は予約時点のスナップショット
			unitPrice := p.SellingPrice()
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           ln.ProductID,
				ProductNameSnapshot: p.Name,
				SKUSnapshot:         p.SKU,
				UnitPrice:           unitPrice,
				Quantity:            ln.Quantity,
				TotalPrice:          unitPrice * ln.Quantity,
				CreatedAt:           now,
			})
			quoteLines = append(quoteLines, pricing.Line{UnitPrice: unitPrice, Quantity: ln.Quantity})
		}

		quote := pricing.Calculate(quoteLines, u.policy)

		//注文番号：<YYYYMMDD><当日連番4桁>。
		//一意indexがあるので同時発行で衝突したらErrDuplicateOrderNumberで上がってくる。
		day := now.Format("20060102")
		count, err := r.Orders().CountByNumberPrefix(ctx, day)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		orderNumber := fmt.Sprintf("%s%04d", day, count+1)

		orderID, err := r.Orders().Create(ctx, model.Order{
			OrderNumber:     orderNumber,
			UserID:          userID,
			Status:          model.OrderStatusPending,
			SubTotal:        quote.SubTotal,
			TaxAmount:       quote.Tax,
			ShippingAmount:  quote.Shipping,
			TotalAmount:     quote.Total,
			IdempotencyKey:  key,
			ShippingStreet:  in.ShippingAddress.Street,
			ShippingCity:    in.ShippingAddress.City,
			ShippingState:   in.ShippingAddress.State,
			ShippingZipCode: in.ShippingAddress.ZipCode,
			ShippingCountry: in.ShippingAddress.Country,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			if errors.Is(err, repo.ErrDuplicateOrderNumber) {
				return err
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		created := model.Order{
			ID:              orderID,
			OrderNumber:     orderNumber,
			UserID:          userID,
			Status:          model.OrderStatusPending,
			SubTotal:        quote.SubTotal,
			TaxAmount:       quote.Tax,
			ShippingAmount:  quote.Shipping,
			TotalAmount:     quote.Total,
			ShippingStreet:  in.ShippingAddress.Street,
			ShippingCity:    in.ShippingAddress.City,
			ShippingState:   in.ShippingAddress.State,
			ShippingZipCode: in.ShippingAddress.ZipCode,
			ShippingCountry: in.ShippingAddress.Country,
			CreatedAt:       now,
		}
		out = toOrderOutput(created, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func validateAddress(a ShippingAddressInput) error {
	if strings.TrimSpace(a.Street) == "" {
		return NewHTTPError(http.StatusBadRequest, "shipping street required")
	}
	if strings.TrimSpace(a.City) == "" {
		return NewHTTPError(http.StatusBadRequest, "shipping city required")
	}
	if strings.TrimSpace(a.State) == "" {
		return NewHTTPError(http.StatusBadRequest, "shipping state required")
	}
	if strings.TrimSpace(a.ZipCode) == "" {
		return NewHTTPError(http.StatusBadRequest, "shipping zip_code required")
	}
	if strings.TrimSpace(a.Country) == "" {
		return NewHTTPError(http.StatusBadRequest, "shipping country required")
	}
	return nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page int, limit int) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if page < 1 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return []OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID:  it.ProductID,
			Name:       it.ProductNameSnapshot,
			SKU:        it.SKUSnapshot,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			TotalPrice: it.TotalPrice,
		})
	}

	return OrderOutput{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Status:         string(o.Status),
		SubTotal:       o.SubTotal,
		TaxAmount:      o.TaxAmount,
		ShippingAmount: o.ShippingAmount,
		TotalAmount:    o.TotalAmount,
		CreatedAt:      o.CreatedAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		Items:          outItems,
	}
}
