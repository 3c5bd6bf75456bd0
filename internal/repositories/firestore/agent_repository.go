package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/agoramall/orders-api/internal/domain"
	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
)

const (
	agentsCollection       = "agents"
	entitlementsCollection = "agentEntitlements"
)

// AgentRepository reads agent accounts and per-variant entitlements.
// Entitlement documents are keyed agent__variant for point lookups.
type AgentRepository struct {
	provider *pfirestore.Provider
}

// NewAgentRepository constructs a Firestore-backed agent reader.
func NewAgentRepository(provider *pfirestore.Provider) (*AgentRepository, error) {
	if provider == nil {
		return nil, errors.New("agent repository requires firestore provider")
	}
	return &AgentRepository{provider: provider}, nil
}

func (r *AgentRepository) FindByID(ctx context.Context, tenantID, agentID string) (domain.Agent, error) {
	if r == nil || r.provider == nil {
		return domain.Agent{}, errors.New("agent repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Agent{}, pfirestore.WrapError("agent.find", err)
	}

	snap, err := client.Collection(agentsCollection).Doc(strings.TrimSpace(agentID)).Get(ctx)
	if err != nil {
		return domain.Agent{}, pfirestore.WrapError("agent.find", err)
	}
	var doc agentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Agent{}, fmt.Errorf("decode agent %s: %w", snap.Ref.ID, err)
	}
	if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.Agent{}, pfirestore.WrapError("agent.find", status.Errorf(codes.NotFound, "agent %s not found", agentID))
	}
	return domain.Agent{
		ID:        snap.Ref.ID,
		TenantID:  doc.TenantID,
		Name:      doc.Name,
		Status:    domain.AgentStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (r *AgentRepository) GetEntitlement(ctx context.Context, tenantID, agentID, variantID string) (domain.AgentEntitlement, error) {
	if r == nil || r.provider == nil {
		return domain.AgentEntitlement{}, errors.New("agent repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.AgentEntitlement{}, pfirestore.WrapError("agent.entitlement", err)
	}

	docID := strings.TrimSpace(agentID) + "__" + strings.TrimSpace(variantID)
	snap, err := client.Collection(entitlementsCollection).Doc(docID).Get(ctx)
	if err != nil {
		return domain.AgentEntitlement{}, pfirestore.WrapError("agent.entitlement", err)
	}
	var doc entitlementDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.AgentEntitlement{}, fmt.Errorf("decode entitlement %s: %w", snap.Ref.ID, err)
	}
	if tenantID != "" && doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.AgentEntitlement{}, pfirestore.WrapError("agent.entitlement", status.Errorf(codes.NotFound, "entitlement %s not found", docID))
	}
	return domain.AgentEntitlement{
		AgentID:       doc.AgentID,
		TenantID:      doc.TenantID,
		ProductID:     doc.ProductID,
		VariantID:     doc.VariantID,
		Active:        doc.Active,
		PriceOverride: doc.PriceOverride,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

type agentDocument struct {
	TenantID  string    `firestore:"tenantId"`
	Name      string    `firestore:"name"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type entitlementDocument struct {
	AgentID       string    `firestore:"agentId"`
	TenantID      string    `firestore:"tenantId"`
	ProductID     string    `firestore:"productId"`
	VariantID     string    `firestore:"variantId"`
	Active        bool      `firestore:"active"`
	PriceOverride *int64    `firestore:"priceOverride,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}
