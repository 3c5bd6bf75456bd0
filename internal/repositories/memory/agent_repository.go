package memory

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/agoramall/orders-api/internal/domain"
	"github.com/agoramall/orders-api/internal/repositories"
)

// AgentRepository is the in-memory agent and entitlement reader.
type AgentRepository struct {
	store *Store
}

// NewAgentRepository constructs an agent repository over the store.
func NewAgentRepository(store *Store) *AgentRepository {
	return &AgentRepository{store: store}
}

// SeedAgent installs an agent account. Test setup helper.
func (r *AgentRepository) SeedAgent(agent domain.Agent) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.agents[agent.ID] = agentRecord{agent: agent}
}

// SeedEntitlement installs an entitlement. Test setup helper.
func (r *AgentRepository) SeedEntitlement(ent domain.AgentEntitlement) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.entitlements[ent.AgentID+"__"+ent.VariantID] = entitlementRecord{entitlement: ent}
}

func (r *AgentRepository) FindByID(ctx context.Context, tenantID, agentID string) (domain.Agent, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	rec, ok := r.store.agents[strings.TrimSpace(agentID)]
	if !ok || (tenantID != "" && rec.agent.TenantID != strings.TrimSpace(tenantID)) {
		return domain.Agent{}, repositories.NewNotFoundError("agent.find", fmt.Sprintf("agent %s not found", agentID))
	}
	return rec.agent, nil
}

func (r *AgentRepository) GetEntitlement(ctx context.Context, tenantID, agentID, variantID string) (domain.AgentEntitlement, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	key := strings.TrimSpace(agentID) + "__" + strings.TrimSpace(variantID)
	rec, ok := r.store.entitlements[key]
	if !ok || (tenantID != "" && rec.entitlement.TenantID != strings.TrimSpace(tenantID)) {
		return domain.AgentEntitlement{}, repositories.NewNotFoundError("agent.entitlement", fmt.Sprintf("entitlement %s not found", key))
	}
	return rec.entitlement, nil
}
