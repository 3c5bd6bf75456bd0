package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/agoramall/orders-api/internal/domain"
	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
)

const (
	productsCollection = "products"
	variantsCollection = "variants"
)

// CatalogRepository reads the tenant catalog. The order service never writes
// catalog data; admin tooling owns these collections.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, tenantID, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("catalog.product", err)
	}

	snap, err := client.Collection(productsCollection).Doc(strings.TrimSpace(productID)).Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("catalog.product", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.Product{}, pfirestore.WrapError("catalog.product", status.Errorf(codes.NotFound, "product %s not found", productID))
	}
	return domain.Product{
		ID:        snap.Ref.ID,
		TenantID:  doc.TenantID,
		Name:      doc.Name,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (r *CatalogRepository) GetVariant(ctx context.Context, tenantID, variantID string) (domain.Variant, error) {
	if r == nil || r.provider == nil {
		return domain.Variant{}, errors.New("catalog repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Variant{}, pfirestore.WrapError("catalog.variant", err)
	}

	snap, err := client.Collection(variantsCollection).Doc(strings.TrimSpace(variantID)).Get(ctx)
	if err != nil {
		return domain.Variant{}, pfirestore.WrapError("catalog.variant", err)
	}
	var doc variantDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Variant{}, fmt.Errorf("decode variant %s: %w", snap.Ref.ID, err)
	}
	if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.Variant{}, pfirestore.WrapError("catalog.variant", status.Errorf(codes.NotFound, "variant %s not found", variantID))
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *CatalogRepository) ListActiveVariants(ctx context.Context, tenantID, productID string) ([]domain.Variant, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("catalog.variants", err)
	}

	iter := client.Collection(variantsCollection).
		Where("tenantId", "==", strings.TrimSpace(tenantID)).
		Where("productId", "==", strings.TrimSpace(productID)).
		Where("active", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var variants []domain.Variant
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("catalog.variants", err)
		}
		var doc variantDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode variant %s: %w", snap.Ref.ID, err)
		}
		variants = append(variants, doc.toDomain(snap.Ref.ID))
	}

	// Stable ordering so default-variant selection never flip-flops
	// between identically timestamped documents.
	sort.Slice(variants, func(i, j int) bool {
		if !variants[i].CreatedAt.Equal(variants[j].CreatedAt) {
			return variants[i].CreatedAt.Before(variants[j].CreatedAt)
		}
		return variants[i].ID < variants[j].ID
	})
	return variants, nil
}

type productDocument struct {
	TenantID  string    `firestore:"tenantId"`
	Name      string    `firestore:"name"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type variantDocument struct {
	ProductID  string    `firestore:"productId"`
	TenantID   string    `firestore:"tenantId"`
	Name       string    `firestore:"name"`
	Active     bool      `firestore:"active"`
	UnitPrice  int64     `firestore:"unitPrice"`
	AgentPrice *int64    `firestore:"agentPrice,omitempty"`
	Currency   string    `firestore:"currency"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	return domain.Variant{
		ID:         id,
		ProductID:  d.ProductID,
		TenantID:   d.TenantID,
		Name:       d.Name,
		Active:     d.Active,
		UnitPrice:  d.UnitPrice,
		AgentPrice: d.AgentPrice,
		Currency:   d.Currency,
		CreatedAt:  d.CreatedAt,
	}
}
