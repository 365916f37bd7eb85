package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hangarlabs/hangar/pkg/types"
)

// SlotBroker grants and releases build slots. Grants are TTL-bounded on
// the broker side, so a crashed deployer cannot hold one forever.
type SlotBroker interface {
	Acquire(ctx context.Context, deploymentID string) (bool, error)
	Release(ctx context.Context, deploymentID string) error
}

// GatewaySlots asks the gateway's /stats/load broker for build slots.
type GatewaySlots struct {
	client     *http.Client
	gatewayURI string
	token      string
}

// NewGatewaySlots creates the broker client. The token is a bearer
// token with deployment write scope.
func NewGatewaySlots(gatewayURI, token string) *GatewaySlots {
	return &GatewaySlots{
		client:     &http.Client{Timeout: 10 * time.Second},
		gatewayURI: gatewayURI,
		token:      token,
	}
}

// Acquire asks for a slot; false means the pool is full right now.
func (g *GatewaySlots) Acquire(ctx context.Context, deploymentID string) (bool, error) {
	resp, err := g.do(ctx, http.MethodPost, deploymentID)
	if err != nil {
		return false, err
	}
	return resp.HasCapacity, nil
}

// Release returns a slot to the pool. Releasing an expired grant is a
// no-op on the broker side.
func (g *GatewaySlots) Release(ctx context.Context, deploymentID string) error {
	_, err := g.do(ctx, http.MethodDelete, deploymentID)
	return err
}

func (g *GatewaySlots) do(ctx context.Context, method, deploymentID string) (*types.LoadResponse, error) {
	payload, err := json.Marshal(types.LoadRequest{ID: deploymentID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, g.gatewayURI+"/stats/load", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewErrorf(types.KindUpstream, "load broker returned %d", resp.StatusCode)
	}
	var out types.LoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode load response: %w", err)
	}
	return &out, nil
}
