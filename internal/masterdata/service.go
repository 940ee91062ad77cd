package masterdata

import (
	"context"
	"fmt"

	"github.com/stocklot/stocklot/internal/shared"
)

// Service wraps master data read paths used by the HTTP layer.
type Service struct {
	repo Repository
}

// NewService creates a new master data service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, error) {
	if filters.Limit < 0 || filters.Limit > 500 {
		filters.Limit = 100
	}
	return s.repo.ListProducts(ctx, filters)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("masterdata: invalid product id: %w", shared.ErrValidation)
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, fmt.Errorf("masterdata: invalid warehouse id: %w", shared.ErrValidation)
	}
	return s.repo.GetWarehouse(ctx, id)
}

func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, fmt.Errorf("masterdata: invalid supplier id: %w", shared.ErrValidation)
	}
	return s.repo.GetSupplier(ctx, id)
}

// SupplierProducts lists the products a supplier may deliver.
func (s *Service) SupplierProducts(ctx context.Context, supplierID int64) ([]Product, error) {
	if supplierID <= 0 {
		return nil, fmt.Errorf("masterdata: invalid supplier id: %w", shared.ErrValidation)
	}
	if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.SupplierProducts(ctx, supplierID)
}

func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	if id <= 0 {
		return Customer{}, fmt.Errorf("masterdata: invalid customer id: %w", shared.ErrValidation)
	}
	return s.repo.GetCustomer(ctx, id)
}
