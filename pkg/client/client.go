package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hangarlabs/hangar/pkg/types"
)

// DeployerClient talks to one project's deployer over the internal
// network. The gateway resolves the target IP from the project state
// per call; deployers move when containers are recreated.
type DeployerClient struct {
	client *http.Client
	// deleteClient allows the long-running stop+clean sequence during
	// project deletion to finish.
	deleteClient *http.Client
	port         int
}

// NewDeployerClient creates a client with the standard timeouts.
func NewDeployerClient() *DeployerClient {
	return &DeployerClient{
		client:       &http.Client{Timeout: 60 * time.Second},
		deleteClient: &http.Client{Timeout: 5 * time.Minute},
		port:         types.UserServicePort,
	}
}

func (c *DeployerClient) baseURL(targetIP string) string {
	return fmt.Sprintf("http://%s:%d", targetIP, c.port)
}

// GetService fetches the service summary with its active deployment.
func (c *DeployerClient) GetService(ctx context.Context, targetIP, project string) (*types.ServiceSummary, error) {
	var summary types.ServiceSummary
	path := fmt.Sprintf("/projects/%s/services/%s", project, project)
	if err := c.getJSON(ctx, c.client, targetIP, path, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetDeployments fetches one page of the project's deployments.
func (c *DeployerClient) GetDeployments(ctx context.Context, targetIP, project string, page, limit uint32) ([]types.Deployment, error) {
	var deployments []types.Deployment
	path := fmt.Sprintf("/projects/%s/deployments?page=%d&limit=%d", project, page, limit)
	if err := c.getJSON(ctx, c.client, targetIP, path, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// StopDeployment asks the deployer to stop a running deployment.
func (c *DeployerClient) StopDeployment(ctx context.Context, targetIP, project, deploymentID string) error {
	path := fmt.Sprintf("/projects/%s/deployments/%s", project, deploymentID)
	return c.do(ctx, c.deleteClient, http.MethodDelete, targetIP, path, nil)
}

// RestartDeployment asks the deployer to rerun an existing deployment.
func (c *DeployerClient) RestartDeployment(ctx context.Context, targetIP, project, deploymentID string) error {
	path := fmt.Sprintf("/projects/%s/deployments/%s", project, deploymentID)
	return c.do(ctx, c.client, http.MethodPut, targetIP, path, nil)
}

// GetResources fetches the project's provisioned resources.
func (c *DeployerClient) GetResources(ctx context.Context, targetIP, project string) ([]types.Resource, error) {
	var resources []types.Resource
	path := fmt.Sprintf("/projects/%s/services/%s/resources", project, project)
	if err := c.getJSON(ctx, c.client, targetIP, path, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// DeleteResource deletes one provisioned resource by type.
func (c *DeployerClient) DeleteResource(ctx context.Context, targetIP, project, resourceType string) error {
	path := fmt.Sprintf("/projects/%s/services/%s/resources/%s", project, project, resourceType)
	return c.do(ctx, c.deleteClient, http.MethodDelete, targetIP, path, nil)
}

// StartIdleDeploys reruns the most recent runnable deployment, used
// after a certificate rotation recreates the project container. A
// long-running service leaves its last record in running, stopped or
// crashed rather than completed, so any state past building qualifies.
func (c *DeployerClient) StartIdleDeploys(ctx context.Context, targetIP, project string) error {
	deployments, err := c.GetDeployments(ctx, targetIP, project, 0, 10)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if d.State.IsRunnable() {
			return c.RestartDeployment(ctx, targetIP, project, d.ID.String())
		}
	}
	return nil
}

func (c *DeployerClient) getJSON(ctx context.Context, client *http.Client, targetIP, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(targetIP)+path, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.NewError(types.KindProjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewErrorf(types.KindUpstream, "deployer returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *DeployerClient) do(ctx context.Context, client *http.Client, method, targetIP, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(targetIP)+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return types.NewErrorf(types.KindUpstream, "deployer returned %d for %s %s", resp.StatusCode, method, path)
	}
	return nil
}
