package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// Deny reasons surfaced on rejected lines. An inactive or unknown agent
// denies with NOT_AUTHORIZED like any other agent-side rejection.
const (
	DenyNotAuthorized   = "NOT_AUTHORIZED"
	DenyNoActiveVariant = "NO_ACTIVE_VARIANT"
	DenyProductNotFound = "PRODUCT_NOT_FOUND"
)

// ChannelResolverDeps wires the per-channel strategies.
type ChannelResolverDeps struct {
	Tenant AuthorizationResolver
	Agent  AuthorizationResolver
}

type channelResolver struct {
	tenant AuthorizationResolver
	agent  AuthorizationResolver
}

// NewChannelResolver dispatches resolution to the strategy matching the
// order's sales channel.
func NewChannelResolver(deps ChannelResolverDeps) (AuthorizationResolver, error) {
	if deps.Tenant == nil {
		return nil, errors.New("channel resolver: tenant strategy is required")
	}
	if deps.Agent == nil {
		return nil, errors.New("channel resolver: agent strategy is required")
	}
	return &channelResolver{tenant: deps.Tenant, agent: deps.Agent}, nil
}

func (r *channelResolver) Resolve(ctx context.Context, tenantID string, channel domain.SalesChannel, ownerID string, items []OrderItemInput) (domain.AuthorizationResult, error) {
	switch channel {
	case domain.ChannelAgent:
		return r.agent.Resolve(ctx, tenantID, channel, ownerID, items)
	case domain.ChannelTenant:
		return r.tenant.Resolve(ctx, tenantID, channel, ownerID, items)
	default:
		return domain.AuthorizationResult{}, fmt.Errorf("%w: unknown sales channel %q", ErrInvalidInput, channel)
	}
}

// TenantResolverDeps wires the tenant-direct pricing strategy.
type TenantResolverDeps struct {
	Catalog repositories.CatalogRepository
}

type tenantResolver struct {
	catalog repositories.CatalogRepository
}

// NewTenantResolver prices lines at the variant's list price. Lines without a
// variant id resolve to the product's oldest active variant.
func NewTenantResolver(deps TenantResolverDeps) (AuthorizationResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("tenant resolver: catalog repository is required")
	}
	return &tenantResolver{catalog: deps.Catalog}, nil
}

func (r *tenantResolver) Resolve(ctx context.Context, tenantID string, _ domain.SalesChannel, _ string, items []OrderItemInput) (domain.AuthorizationResult, error) {
	var result domain.AuthorizationResult
	for _, item := range items {
		variant, denyReason, err := r.resolveVariant(ctx, tenantID, item)
		if err != nil {
			return domain.AuthorizationResult{}, err
		}
		if denyReason != "" {
			result.DeniedItems = append(result.DeniedItems, domain.DeniedItem{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Reason:    denyReason,
			})
			continue
		}
		result.AuthorizedItems = append(result.AuthorizedItems, domain.AuthorizedItem{
			ProductID:      variant.ProductID,
			VariantID:      variant.ID,
			Name:           variant.Name,
			Quantity:       item.Quantity,
			EffectivePrice: variant.UnitPrice,
			Currency:       variant.Currency,
		})
	}
	return result, nil
}

// resolveVariant finds the concrete active variant for a requested line.
// Shared by both strategies; agents still buy concrete variants.
func (r *tenantResolver) resolveVariant(ctx context.Context, tenantID string, item OrderItemInput) (domain.Variant, string, error) {
	if variantID := strings.TrimSpace(item.VariantID); variantID != "" {
		variant, err := r.catalog.GetVariant(ctx, tenantID, variantID)
		if err != nil {
			if isNotFound(err) {
				return domain.Variant{}, DenyNoActiveVariant, nil
			}
			return domain.Variant{}, "", fmt.Errorf("resolve variant %s: %w", variantID, err)
		}
		if !variant.Active {
			return domain.Variant{}, DenyNoActiveVariant, nil
		}
		product, err := r.catalog.GetProduct(ctx, tenantID, variant.ProductID)
		if err != nil {
			if isNotFound(err) {
				return domain.Variant{}, DenyProductNotFound, nil
			}
			return domain.Variant{}, "", fmt.Errorf("resolve product %s: %w", variant.ProductID, err)
		}
		if !product.Active {
			return domain.Variant{}, DenyNoActiveVariant, nil
		}
		return variant, "", nil
	}

	product, err := r.catalog.GetProduct(ctx, tenantID, strings.TrimSpace(item.ProductID))
	if err != nil {
		if isNotFound(err) {
			return domain.Variant{}, DenyProductNotFound, nil
		}
		return domain.Variant{}, "", fmt.Errorf("resolve product %s: %w", item.ProductID, err)
	}
	if !product.Active {
		return domain.Variant{}, DenyNoActiveVariant, nil
	}
	variants, err := r.catalog.ListActiveVariants(ctx, tenantID, product.ID)
	if err != nil {
		return domain.Variant{}, "", fmt.Errorf("list variants of %s: %w", product.ID, err)
	}
	if len(variants) == 0 {
		return domain.Variant{}, DenyNoActiveVariant, nil
	}
	// Oldest active variant is the deterministic default.
	return variants[0], "", nil
}

// AgentResolverDeps wires the agent-resold pricing strategy.
type AgentResolverDeps struct {
	Catalog repositories.CatalogRepository
	Agents  repositories.AgentRepository
}

type agentResolver struct {
	catalog *tenantResolver
	agents  repositories.AgentRepository
}

// NewAgentResolver prices lines from the agent's entitlements. The agent must
// be ACTIVE and hold an active entitlement per variant. The effective price
// is the entitlement override, else the variant's agent price; a variant with
// neither is not resellable.
func NewAgentResolver(deps AgentResolverDeps) (AuthorizationResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("agent resolver: catalog repository is required")
	}
	if deps.Agents == nil {
		return nil, errors.New("agent resolver: agent repository is required")
	}
	return &agentResolver{
		catalog: &tenantResolver{catalog: deps.Catalog},
		agents:  deps.Agents,
	}, nil
}

func (r *agentResolver) Resolve(ctx context.Context, tenantID string, _ domain.SalesChannel, agentID string, items []OrderItemInput) (domain.AuthorizationResult, error) {
	agent, err := r.agents.FindByID(ctx, tenantID, strings.TrimSpace(agentID))
	if err != nil && !isNotFound(err) {
		return domain.AuthorizationResult{}, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}
	if isNotFound(err) || agent.Status != domain.AgentStatusActive {
		result := domain.AuthorizationResult{}
		for _, item := range items {
			result.DeniedItems = append(result.DeniedItems, domain.DeniedItem{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Reason:    DenyNotAuthorized,
			})
		}
		return result, nil
	}

	var result domain.AuthorizationResult
	for _, item := range items {
		variant, denyReason, err := r.catalog.resolveVariant(ctx, tenantID, item)
		if err != nil {
			return domain.AuthorizationResult{}, err
		}
		if denyReason != "" {
			result.DeniedItems = append(result.DeniedItems, domain.DeniedItem{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Reason:    denyReason,
			})
			continue
		}

		entitlement, err := r.agents.GetEntitlement(ctx, tenantID, agent.ID, variant.ID)
		if err != nil && !isNotFound(err) {
			return domain.AuthorizationResult{}, fmt.Errorf("resolve entitlement for %s: %w", variant.ID, err)
		}
		if isNotFound(err) || !entitlement.Active {
			result.DeniedItems = append(result.DeniedItems, domain.DeniedItem{
				ProductID: item.ProductID,
				VariantID: variant.ID,
				Reason:    DenyNotAuthorized,
			})
			continue
		}

		price, ok := effectiveAgentPrice(entitlement, variant)
		if !ok {
			result.DeniedItems = append(result.DeniedItems, domain.DeniedItem{
				ProductID: item.ProductID,
				VariantID: variant.ID,
				Reason:    DenyNotAuthorized,
			})
			continue
		}

		result.AuthorizedItems = append(result.AuthorizedItems, domain.AuthorizedItem{
			ProductID:      variant.ProductID,
			VariantID:      variant.ID,
			Name:           variant.Name,
			Quantity:       item.Quantity,
			EffectivePrice: price,
			Currency:       variant.Currency,
		})
	}
	return result, nil
}

func effectiveAgentPrice(entitlement domain.AgentEntitlement, variant domain.Variant) (int64, bool) {
	if entitlement.PriceOverride != nil {
		return *entitlement.PriceOverride, true
	}
	if variant.AgentPrice != nil {
		return *variant.AgentPrice, true
	}
	return 0, false
}

// isNotFound recognises missing-record errors from any repository backend.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
