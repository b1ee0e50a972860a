package llm

import (
	"fmt"
	"os"

	"github.com/eonseed/perspt/internal/config"
)

// Tier names the four reasoning roles of the orchestration loop
type Tier string

const (
	// TierArchitect decomposes the task into a plan
	TierArchitect Tier = "architect"
	// TierActuator produces code changes for one node
	TierActuator Tier = "actuator"
	// TierVerifier reviews verification evidence
	TierVerifier Tier = "verifier"
	// TierSpeculator cheaply pre-checks expensive actuator calls
	TierSpeculator Tier = "speculator"
)

// Router maps tiers onto configured clients
type Router struct {
	clients map[Tier]Client
}

// NewRouter builds a router from explicit tier clients
func NewRouter(clients map[Tier]Client) *Router {
	return &Router{clients: clients}
}

// NewRouterFromConfig constructs provider clients for each tier. Tiers
// sharing a provider and model share one client.
func NewRouterFromConfig(tiers config.TierConfig) (*Router, error) {
	cache := make(map[string]Client)
	clients := make(map[Tier]Client, 4)

	for tier, mc := range map[Tier]config.ModelConfig{
		TierArchitect:  tiers.Architect,
		TierActuator:   tiers.Actuator,
		TierVerifier:   tiers.Verifier,
		TierSpeculator: tiers.Speculator,
	} {
		key := mc.Provider + "/" + mc.Model + "/" + mc.BaseURL
		if client, ok := cache[key]; ok {
			clients[tier] = client
			continue
		}

		client, err := newClient(mc)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s client: %w", tier, err)
		}
		cache[key] = client
		clients[tier] = client
	}

	return &Router{clients: clients}, nil
}

func newClient(mc config.ModelConfig) (Client, error) {
	apiKey := os.Getenv(mc.APIKeyEnv)
	switch mc.Provider {
	case "anthropic":
		return NewAnthropicClient(apiKey, mc.Model)
	case "openai":
		return NewOpenAIClient(apiKey, mc.Model, mc.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}
}

// Client returns the client for a tier
func (r *Router) Client(tier Tier) (Client, error) {
	client, ok := r.clients[tier]
	if !ok || client == nil {
		return nil, fmt.Errorf("no client configured for tier %s", tier)
	}
	return client, nil
}
