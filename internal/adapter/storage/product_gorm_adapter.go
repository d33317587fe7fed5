package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rl1809/cart-service/internal/core/domain"
)

// ErrProductMissing matches domain.ErrNotFound.
var ErrProductMissing = errors.Wrap(domain.ErrNotFound, "product row missing")

type productModel struct {
	ID          string          `gorm:"primaryKey;type:char(36)"`
	Name        string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Stock       int             `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (productModel) TableName() string {
	return "products"
}

func toProductModel(p *domain.Product) *productModel {
	return &productModel{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (m *productModel) toDomain() domain.Product {
	return domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Stock:       m.Stock,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ProductGormAdapter is the catalog and stock store.
type ProductGormAdapter struct {
	db *gorm.DB
}

func NewProductGormAdapter(db *gorm.DB) *ProductGormAdapter {
	return &ProductGormAdapter{db: db}
}

func (r *ProductGormAdapter) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	var model productModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find product %s", id)
	}

	product := model.toDomain()
	return &product, nil
}

func (r *ProductGormAdapter) UpdateStock(ctx context.Context, id string, newStock int) error {
	result := r.db.WithContext(ctx).Model(&productModel{}).Where("id = ?", id).Update("stock", newStock)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update stock of %s", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrProductMissing, "update stock of %s", id)
	}
	return nil
}

func (r *ProductGormAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	if err := r.db.WithContext(ctx).Create(toProductModel(product)).Error; err != nil {
		return errors.Wrapf(err, "create product %s", product.ID)
	}
	return nil
}

func (r *ProductGormAdapter) UpdateProduct(ctx context.Context, product *domain.Product) error {
	updates := map[string]interface{}{
		"name":        product.Name,
		"description": product.Description,
		"price":       product.Price,
		"stock":       product.Stock,
		"updated_at":  product.UpdatedAt,
	}
	result := r.db.WithContext(ctx).Model(&productModel{}).Where("id = ?", product.ID).Updates(updates)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update product %s", product.ID)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrProductMissing, "update product %s", product.ID)
	}
	return nil
}

func (r *ProductGormAdapter) ListProducts(ctx context.Context, offset, limit int) ([]domain.Product, int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&productModel{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	var models []productModel
	err := r.db.WithContext(ctx).
		Order("created_at, id").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}

	products := make([]domain.Product, 0, len(models))
	for i := range models {
		products = append(products, models[i].toDomain())
	}
	return products, int(total), nil
}
