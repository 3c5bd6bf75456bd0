package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// CatalogRepository is the in-memory catalog reader.
type CatalogRepository struct {
	store *Store
}

// NewCatalogRepository constructs a catalog repository over the store.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{store: store}
}

// SeedProduct installs a product. Test setup helper.
func (r *CatalogRepository) SeedProduct(product domain.Product) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.products[product.ID] = productRecord{product: product}
}

// SeedVariant installs a variant. Test setup helper.
func (r *CatalogRepository) SeedVariant(variant domain.Variant) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.variants[variant.ID] = variantRecord{variant: variant}
}

func (r *CatalogRepository) GetProduct(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, ok := r.store.products[strings.TrimSpace(productID)]
	if !ok || (tenantID != "" && rec.product.TenantID != strings.TrimSpace(tenantID)) {
		return domain.Product{}, repositories.NewNotFoundError("catalog.product", fmt.Sprintf("product %s not found", productID))
	}
	return rec.product, nil
}

func (r *CatalogRepository) GetVariant(ctx context.Context, tenantID, variantID string) (domain.Variant, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, ok := r.store.variants[strings.TrimSpace(variantID)]
	if !ok || (tenantID != "" && rec.variant.TenantID != strings.TrimSpace(tenantID)) {
		return domain.Variant{}, repositories.NewNotFoundError("catalog.variant", fmt.Sprintf("variant %s not found", variantID))
	}
	return rec.variant, nil
}

func (r *CatalogRepository) ListActiveVariants(ctx context.Context, tenantID, productID string) ([]domain.Variant, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var variants []domain.Variant
	for _, rec := range r.store.variants {
		v := rec.variant
		if v.TenantID == strings.TrimSpace(tenantID) && v.ProductID == strings.TrimSpace(productID) && v.Active {
			variants = append(variants, v)
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		if !variants[i].CreatedAt.Equal(variants[j].CreatedAt) {
			return variants[i].CreatedAt.Before(variants[j].CreatedAt)
		}
		return variants[i].ID < variants[j].ID
	})
	return variants, nil
}
