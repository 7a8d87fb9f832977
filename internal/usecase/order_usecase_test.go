package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"app/internal/domain/model"
	"app/internal/pricing"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================
// In-memory fakes
// =====================
// 注文作成は「予約＋insertがまとめてコミットされるか、まとめて消えるか」が本体なので、
// mockではなく状態を持つfakeで検証する。
// WithinTxは状態のスナップショットを取り、fnがerrorを返したら巻き戻す。

type memState struct {
	products    map[int64]model.Product
	orders      []model.Order
	items       map[int64][]model.OrderItem
	nextOrderID int64

	//trueにすると注文insertを失敗させる（ロールバック検証用）
	failOrderCreate bool
}

func newMemState() *memState {
	return &memState{
		products:    map[int64]model.Product{},
		items:       map[int64][]model.OrderItem{},
		nextOrderID: 1,
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextOrderID = s.nextOrderID
	c.failOrderCreate = s.failOrderCreate
	for id, p := range s.products {
		c.products[id] = p
	}
	c.orders = append([]model.Order(nil), s.orders...)
	for id, items := range s.items {
		c.items[id] = append([]model.OrderItem(nil), items...)
	}
	return c
}

type memTxManager struct {
	mu sync.Mutex
	st *memState
}

func (m *memTxManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.st.clone()
	if err := fn(&memTxRepos{st: m.st}); err != nil {
		*m.st = *snap
		return err
	}
	return nil
}

type memTxRepos struct{ st *memState }

func (r *memTxRepos) Orders() repo.OrderRepository         { return &memOrders{st: r.st} }
func (r *memTxRepos) OrderItems() repo.OrderItemRepository { return &memOrderItems{st: r.st} }
func (r *memTxRepos) Inventory() repo.InventoryRepository  { return &memInventory{st: r.st} }
func (r *memTxRepos) Products() repo.ProductRepository     { return &memProducts{st: r.st} }

type memProducts struct{ st *memState }

func (m *memProducts) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := m.st.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	panic("not used")
}
func (m *memProducts) FindBySKU(ctx context.Context, sku string) (model.Product, error) {
	panic("not used")
}
func (m *memProducts) Create(ctx context.Context, p model.Product) (model.Product, error) {
	panic("not used")
}
func (m *memProducts) Update(ctx context.Context, p model.Product) error { panic("not used") }
func (m *memProducts) SoftDelete(ctx context.Context, id int64) error    { panic("not used") }
func (m *memProducts) ListLowStock(ctx context.Context) ([]model.Product, error) {
	panic("not used")
}

type memInventory struct{ st *memState }

func (m *memInventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	p, ok := m.st.products[productID]
	if !ok {
		return false, nil
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	m.st.products[productID] = p
	return true, nil
}

func (m *memInventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	p := m.st.products[productID]
	p.Stock += qty
	m.st.products[productID] = p
	return nil
}

func (m *memInventory) SetStock(ctx context.Context, productID int64, newStock int64) error {
	panic("not used")
}
func (m *memInventory) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	panic("not used")
}

type memOrders struct{ st *memState }

func (m *memOrders) Create(ctx context.Context, order model.Order) (int64, error) {
	if m.st.failOrderCreate {
		return 0, errInsertFailed
	}
	for _, o := range m.st.orders {
		if o.OrderNumber == order.OrderNumber {
			return 0, repo.ErrDuplicateOrderNumber
		}
	}
	order.ID = m.st.nextOrderID
	m.st.nextOrderID++
	m.st.orders = append(m.st.orders, order)
	return order.ID, nil
}

func (m *memOrders) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	for _, o := range m.st.orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (m *memOrders) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	var out []model.Order
	for _, o := range m.st.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memOrders) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus, ts repo.StatusTimestamps) error {
	for i := range m.st.orders {
		if m.st.orders[i].ID == orderID {
			m.st.orders[i].Status = status
			if ts.ShippedAt != nil {
				m.st.orders[i].ShippedAt = ts.ShippedAt
			}
			if ts.DeliveredAt != nil {
				m.st.orders[i].DeliveredAt = ts.DeliveredAt
			}
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *memOrders) CountByNumberPrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	for _, o := range m.st.orders {
		if strings.HasPrefix(o.OrderNumber, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *memOrders) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	for _, o := range m.st.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (m *memOrders) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	panic("not used")
}

type memOrderItems struct{ st *memState }

func (m *memOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for i := range items {
		items[i].OrderID = orderID
	}
	m.st.items[orderID] = append(m.st.items[orderID], items...)
	return nil
}

func (m *memOrderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	return append([]model.OrderItem(nil), m.st.items[orderID]...), nil
}

// 監査ログはコミット後に別経路で呼ばれるので自前のロックを持つ
type memAuditLogs struct {
	mu   sync.Mutex
	logs []model.AuditLog
}

func (m *memAuditLogs) Create(ctx context.Context, log model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *memAuditLogs) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AuditLog(nil), m.logs...), nil
}

var errInsertFailed = errors.New("insert failed")

// =====================
// Helpers
// =====================

func newOrderFixture() (*usecase.OrderUsecase, *memState, *memAuditLogs) {
	st := newMemState()
	audit := &memAuditLogs{}
	uc := usecase.NewOrderUsecase(&memTxManager{st: st}, audit, pricing.DefaultPolicy())
	return uc, st, audit
}

func validAddress() usecase.ShippingAddressInput {
	return usecase.ShippingAddressInput{
		Street:  "1-2-3 Chuo",
		City:    "Osaka",
		State:   "Osaka",
		ZipCode: "530-0001",
		Country: "JP",
	}
}

func addProduct(st *memState, id int64, price int64, stock int64) {
	st.products[id] = model.Product{
		ID:       id,
		SKU:      fmt.Sprintf("SKU-%03d", id),
		Name:     fmt.Sprintf("product-%d", id),
		Price:    price,
		Stock:    stock,
		IsActive: true,
	}
}

// =====================
// PlaceOrder
// =====================

func TestPlaceOrder_Success(t *testing.T) {
	uc, st, audit := newOrderFixture()
	addProduct(st, 1, 999, 10)
	addProduct(st, 2, 450, 5)

	out, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)

	assert.Equal(t, "PENDING", out.Status)
	assert.Equal(t, int64(2448), out.SubTotal)
	assert.Equal(t, int64(196), out.TaxAmount)
	assert.Equal(t, int64(1000), out.ShippingAmount)
	assert.Equal(t, int64(3644), out.TotalAmount)
	assert.Len(t, out.Items, 2)

	//注文番号は <当日YYYYMMDD><連番4桁>
	today := time.Now().Format("20060102")
	assert.Equal(t, today+"0001", out.OrderNumber)

	//在庫は予約分だけ減る
	assert.Equal(t, int64(8), st.products[1].Stock)
	assert.Equal(t, int64(4), st.products[2].Stock)

	//監査ログ（CREATE_ORDER）が1件
	logs, _ := audit.List(context.Background(), repo.AuditLogFilter{})
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditActionCreateOrder, logs[0].Action)
	assert.Equal(t, out.ID, logs[0].ResourceID)
}

func TestPlaceOrder_UsesSalePriceSnapshot(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)
	p := st.products[1]
	sale := int64(799)
	p.SalePrice = &sale
	st.products[1] = p

	out, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 2}},
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(799), out.Items[0].UnitPrice)
	assert.Equal(t, int64(1598), out.SubTotal)
}

// 2明細目で在庫不足になったら、1明細目の予約も含めて全部巻き戻る
func TestPlaceOrder_ShortageRollsBackEarlierReservations(t *testing.T) {
	uc, st, audit := newOrderFixture()
	addProduct(st, 1, 999, 5)
	addProduct(st, 2, 450, 2)

	_, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items: []usecase.OrderLineInput{
			{ProductID: 1, Quantity: 1},
			{ProductID: 2, Quantity: 4},
		},
		ShippingAddress: validAddress(),
	})
	require.Error(t, err)

	//不足した商品・要求量・在庫が載っていること
	se, ok := usecase.AsStockUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, int64(2), se.ProductID)
	assert.Equal(t, int64(4), se.Requested)
	assert.Equal(t, int64(2), se.Available)

	//在庫は元どおり、注文も残らない
	assert.Equal(t, int64(5), st.products[1].Stock)
	assert.Equal(t, int64(2), st.products[2].Stock)
	assert.Empty(t, st.orders)

	logs, _ := audit.List(context.Background(), repo.AuditLogFilter{})
	assert.Empty(t, logs)
}

func TestPlaceOrder_InactiveProductIsUnavailable(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)
	p := st.products[1]
	p.IsActive = false
	st.products[1] = p

	_, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
		ShippingAddress: validAddress(),
	})
	require.Error(t, err)

	se, ok := usecase.AsStockUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), se.Available)
}

func TestPlaceOrder_UnknownProductIsUnavailable(t *testing.T) {
	uc, _, _ := newOrderFixture()

	_, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 999, Quantity: 1}},
		ShippingAddress: validAddress(),
	})
	require.Error(t, err)

	se, ok := usecase.AsStockUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, int64(999), se.ProductID)
	assert.Equal(t, int64(0), se.Available)
}

// 同じキーの再送は既存の注文をそのまま返す。在庫は二重に減らない。
func TestPlaceOrder_IdempotencyReplay(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)

	in := usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 2}},
		ShippingAddress: validAddress(),
		IdempotencyKey:  "retry-key-1",
	}

	first, err := uc.PlaceOrder(context.Background(), 1, in)
	require.NoError(t, err)

	second, err := uc.PlaceOrder(context.Background(), 1, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Len(t, st.orders, 1)
	assert.Equal(t, int64(8), st.products[1].Stock)
}

// 同時注文の成功数合計が在庫を超えないこと
func TestPlaceOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 5)

	const workers = 10
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.PlaceOrder(context.Background(), int64(i+1), usecase.PlaceOrderInput{
				Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
				ShippingAddress: validAddress(),
				IdempotencyKey:  fmt.Sprintf("concurrent-%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		_, ok := usecase.AsStockUnavailable(err)
		assert.True(t, ok, "unexpected error: %v", err)
	}

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, int64(0), st.products[1].Stock)
	assert.Len(t, st.orders, 5)

	//注文番号が重複していないこと
	numbers := map[string]bool{}
	for _, o := range st.orders {
		assert.False(t, numbers[o.OrderNumber], "duplicate order number %s", o.OrderNumber)
		numbers[o.OrderNumber] = true
	}
}

// 予約成功後に注文insertが落ちたら、在庫が予約前の値に戻ること（round-trip）
func TestPlaceOrder_InsertFailureRollsBackReservation(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 5)
	st.failOrderCreate = true

	_, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 3}},
		ShippingAddress: validAddress(),
	})
	require.Error(t, err)

	//業務エラーではなく汎用の500で返る
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 500, he.Status)
	_, isStock := usecase.AsStockUnavailable(err)
	assert.False(t, isStock)

	assert.Equal(t, int64(5), st.products[1].Stock)
	assert.Empty(t, st.orders)
}

// 在庫5に対して3個ずつの注文が2本同時に走ったら、成功はちょうど1本
func TestPlaceOrder_TwoRacersOneWins(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 5)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.PlaceOrder(context.Background(), int64(i+1), usecase.PlaceOrderInput{
				Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 3}},
				ShippingAddress: validAddress(),
				IdempotencyKey:  fmt.Sprintf("racer-%d", i),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			_, ok := usecase.AsStockUnavailable(err)
			assert.True(t, ok)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(2), st.products[1].Stock)
}

func TestPlaceOrder_ValidationErrors(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)

	cases := []struct {
		name   string
		userID int64
		in     usecase.PlaceOrderInput
		status int
	}{
		{
			name:   "no items",
			userID: 1,
			in:     usecase.PlaceOrderInput{ShippingAddress: validAddress()},
			status: 400,
		},
		{
			name:   "zero quantity",
			userID: 1,
			in: usecase.PlaceOrderInput{
				Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 0}},
				ShippingAddress: validAddress(),
			},
			status: 400,
		},
		{
			name:   "duplicate product",
			userID: 1,
			in: usecase.PlaceOrderInput{
				Items: []usecase.OrderLineInput{
					{ProductID: 1, Quantity: 1},
					{ProductID: 1, Quantity: 2},
				},
				ShippingAddress: validAddress(),
			},
			status: 400,
		},
		{
			name:   "missing street",
			userID: 1,
			in: usecase.PlaceOrderInput{
				Items: []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
				ShippingAddress: usecase.ShippingAddressInput{
					City: "Osaka", State: "Osaka", ZipCode: "530-0001", Country: "JP",
				},
			},
			status: 400,
		},
		{
			name:   "no user",
			userID: 0,
			in: usecase.PlaceOrderInput{
				Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
				ShippingAddress: validAddress(),
			},
			status: 401,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.PlaceOrder(context.Background(), tc.userID, tc.in)
			require.Error(t, err)

			he, ok := usecase.AsHTTPError(err)
			require.True(t, ok)
			assert.Equal(t, tc.status, he.Status)

			//検証エラーでは何も書かれない
			assert.Empty(t, st.orders)
		})
	}
}

// 注文番号は当日の件数から連番で振られる
func TestPlaceOrder_SequentialOrderNumbers(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 100)

	today := time.Now().Format("20060102")
	for i := 1; i <= 3; i++ {
		out, err := uc.PlaceOrder(context.Background(), int64(i), usecase.PlaceOrderInput{
			Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
			ShippingAddress: validAddress(),
			IdempotencyKey:  fmt.Sprintf("seq-%d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%s%04d", today, i), out.OrderNumber)
	}
	assert.Len(t, st.orders, 3)
}

// =====================
// ListMyOrders / GetMyOrderDetail
// =====================

func TestGetMyOrderDetail_OtherUsersOrderIsNotFound(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)

	out, err := uc.PlaceOrder(context.Background(), 1, usecase.PlaceOrderInput{
		Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)

	//本人は見える
	got, err := uc.GetMyOrderDetail(context.Background(), 1, out.ID)
	require.NoError(t, err)
	assert.Equal(t, out.OrderNumber, got.OrderNumber)

	//他人には存在しない扱い
	_, err = uc.GetMyOrderDetail(context.Background(), 2, out.ID)
	require.Error(t, err)
	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 404, he.Status)
}

func TestListMyOrders_ReturnsOwnOrdersOnly(t *testing.T) {
	uc, st, _ := newOrderFixture()
	addProduct(st, 1, 999, 10)

	for i := 1; i <= 2; i++ {
		_, err := uc.PlaceOrder(context.Background(), int64(i), usecase.PlaceOrderInput{
			Items:           []usecase.OrderLineInput{{ProductID: 1, Quantity: 1}},
			ShippingAddress: validAddress(),
			IdempotencyKey:  fmt.Sprintf("mine-%d", i),
		})
		require.NoError(t, err)
	}

	outs, err := uc.ListMyOrders(context.Background(), 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, int64(1), outs[0].UserID)
}
