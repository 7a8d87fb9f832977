package usecase_test

import (
	"context"
	"testing"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type ProductRepoMock struct{ mock.Mock }

func (m *ProductRepoMock) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	args := m.Called(ctx, q)
	items, _ := args.Get(0).([]model.Product)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *ProductRepoMock) FindByID(ctx context.Context, id int64) (model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

func (m *ProductRepoMock) FindBySKU(ctx context.Context, sku string) (model.Product, error) {
	args := m.Called(ctx, sku)
	p, _ := args.Get(0).(model.Product)
	return p, args.Error(1)
}

func (m *ProductRepoMock) Create(ctx context.Context, p model.Product) (model.Product, error) {
	args := m.Called(ctx, p)
	created, _ := args.Get(0).(model.Product)
	return created, args.Error(1)
}

func (m *ProductRepoMock) Update(ctx context.Context, p model.Product) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ProductRepoMock) SoftDelete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ProductRepoMock) ListLowStock(ctx context.Context) ([]model.Product, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]model.Product)
	return items, args.Error(1)
}

type ProductInventoryRepoMock struct{ mock.Mock }

func (m *ProductInventoryRepoMock) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	panic("not used in ProductUsecase tests")
}

func (m *ProductInventoryRepoMock) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	panic("not used in ProductUsecase tests")
}

func (m *ProductInventoryRepoMock) SetStock(ctx context.Context, productID int64, newStock int64) error {
	args := m.Called(ctx, productID, newStock)
	return args.Error(0)
}

func (m *ProductInventoryRepoMock) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	args := m.Called(ctx, adj)
	return args.Error(0)
}

type productFixture struct {
	uc        *usecase.ProductUsecase
	products  *ProductRepoMock
	inventory *ProductInventoryRepoMock
	audit     *AuditRepoMock
}

func newProductFixture() *productFixture {
	f := &productFixture{
		products:  new(ProductRepoMock),
		inventory: new(ProductInventoryRepoMock),
		audit:     new(AuditRepoMock),
	}
	f.uc = usecase.NewProductUsecase(f.products, f.inventory, f.audit)
	return f
}

// =====================
// Public: List / Detail
// =====================

func TestListPublicProducts_InvalidPage(t *testing.T) {
	f := newProductFixture()

	_, err := f.uc.ListPublicProducts(context.Background(), usecase.ListProductsInput{Page: 0, Limit: 20})
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestListPublicProducts_InvalidSort(t *testing.T) {
	f := newProductFixture()

	_, err := f.uc.ListPublicProducts(context.Background(), usecase.ListProductsInput{Page: 1, Limit: 20, Sort: "rating"})
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestGetProductDetail_InactiveIsNotFound(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindByID", mock.Anything, int64(1)).
		Return(model.Product{ID: 1, IsActive: false}, nil)

	_, err := f.uc.GetProductDetail(context.Background(), 1)
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 404, he.Status)
}

func TestGetProductDetail_NotFound(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindByID", mock.Anything, int64(99)).
		Return(model.Product{}, repo.ErrNotFound)

	_, err := f.uc.GetProductDetail(context.Background(), 99)
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 404, he.Status)
}

// =====================
// Admin: Create / Update
// =====================

func TestAdminCreateProduct_RequiresSKU(t *testing.T) {
	f := newProductFixture()

	_, err := f.uc.AdminCreateProduct(context.Background(), 100, usecase.AdminCreateProductInput{
		Name: "widget", Price: 999,
	})
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestAdminCreateProduct_DuplicateSKU(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindBySKU", mock.Anything, "SKU-001").
		Return(model.Product{ID: 1, SKU: "SKU-001"}, nil)

	_, err := f.uc.AdminCreateProduct(context.Background(), 100, usecase.AdminCreateProductInput{
		SKU: "SKU-001", Name: "widget", Price: 999,
	})
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 409, he.Status)

	f.products.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAdminCreateProduct_SalePriceAbovePrice(t *testing.T) {
	f := newProductFixture()

	sale := int64(1500)
	_, err := f.uc.AdminCreateProduct(context.Background(), 100, usecase.AdminCreateProductInput{
		SKU: "SKU-001", Name: "widget", Price: 999, SalePrice: &sale,
	})
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestAdminCreateProduct_Success(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindBySKU", mock.Anything, "SKU-001").
		Return(model.Product{}, repo.ErrNotFound)
	f.products.On("Create", mock.Anything, mock.Anything).
		Return(model.Product{ID: 7, SKU: "SKU-001", Price: 999, Stock: 10}, nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	id, err := f.uc.AdminCreateProduct(context.Background(), 100, usecase.AdminCreateProductInput{
		SKU: "SKU-001", Name: "widget", Price: 999, Stock: 10, IsActive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	f.products.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

// 監査ログの失敗は作成を失敗させない
func TestAdminCreateProduct_AuditFailureDoesNotFailOperation(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindBySKU", mock.Anything, "SKU-001").
		Return(model.Product{}, repo.ErrNotFound)
	f.products.On("Create", mock.Anything, mock.Anything).
		Return(model.Product{ID: 7, SKU: "SKU-001"}, nil)
	f.audit.On("Create", mock.Anything, mock.Anything).
		Return(assert.AnError)

	id, err := f.uc.AdminCreateProduct(context.Background(), 100, usecase.AdminCreateProductInput{
		SKU: "SKU-001", Name: "widget", Price: 999,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

// =====================
// Admin: Inventory
// =====================

func TestAdminUpdateInventory_NegativeStock(t *testing.T) {
	f := newProductFixture()

	err := f.uc.AdminUpdateInventory(context.Background(), 100, 1, -1, "recount")
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestAdminUpdateInventory_ReasonRequired(t *testing.T) {
	f := newProductFixture()

	err := f.uc.AdminUpdateInventory(context.Background(), 100, 1, 5, "  ")
	require.Error(t, err)

	he, ok := usecase.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 400, he.Status)
}

func TestAdminUpdateInventory_RecordsAdjustmentDelta(t *testing.T) {
	f := newProductFixture()

	f.products.On("FindByID", mock.Anything, int64(1)).
		Return(model.Product{ID: 1, Stock: 10}, nil)
	f.inventory.On("SetStock", mock.Anything, int64(1), int64(3)).Return(nil)
	f.inventory.On("CreateAdjustment", mock.Anything, mock.MatchedBy(func(adj model.InventoryAdjustment) bool {
		return adj.ProductID == 1 && adj.Delta == -7 && adj.Reason == "damaged stock"
	})).Return(nil)
	f.audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	err := f.uc.AdminUpdateInventory(context.Background(), 100, 1, 3, "damaged stock")
	require.NoError(t, err)

	f.inventory.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestAdminListLowStock(t *testing.T) {
	f := newProductFixture()

	f.products.On("ListLowStock", mock.Anything).
		Return([]model.Product{{ID: 1, Stock: 2, ReorderLevel: 10}}, nil)

	out, err := f.uc.AdminListLowStock(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)
}
