package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hangarlabs/hangar/pkg/types"
)

// Broker is a thin passthrough to the external resource recorder, the
// service of record for databases and other resources provisioned for
// a project. The gateway consults it during project deletion and
// forwards user list/delete calls untouched.
type Broker struct {
	recorderURI string
	client      *http.Client
}

// NewBroker creates a broker for the recorder at the given base URI.
func NewBroker(recorderURI string) *Broker {
	return &Broker{
		recorderURI: strings.TrimRight(recorderURI, "/"),
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// List returns every resource recorded for the project.
func (b *Broker) List(ctx context.Context, projectName string) ([]types.Resource, error) {
	url := fmt.Sprintf("%s/projects/%s/resources", b.recorderURI, projectName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, types.NewErrorf(types.KindUpstream, "resource recorder returned %d", resp.StatusCode)
	}

	var resources []types.Resource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to decode resource list: %w", err)
	}
	return resources, nil
}

// Get returns one resource by type.
func (b *Broker) Get(ctx context.Context, projectName, resourceType string) (*types.Resource, error) {
	url := fmt.Sprintf("%s/projects/%s/resources/%s", b.recorderURI, projectName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var resource types.Resource
		if err := json.NewDecoder(resp.Body).Decode(&resource); err != nil {
			return nil, fmt.Errorf("failed to decode resource: %w", err)
		}
		return &resource, nil
	case http.StatusNotFound:
		return nil, types.NewError(types.KindProjectNotFound)
	default:
		return nil, types.NewErrorf(types.KindUpstream, "resource recorder returned %d", resp.StatusCode)
	}
}

// Delete removes one recorded resource. The recorder performs the
// actual teardown; a non-2xx answer means the resource still exists.
func (b *Broker) Delete(ctx context.Context, projectName, resourceType string) error {
	url := fmt.Sprintf("%s/projects/%s/resources/%s", b.recorderURI, projectName, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return types.WrapError(types.KindUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return types.NewErrorf(types.KindUpstream, "resource recorder returned %d deleting %s", resp.StatusCode, resourceType)
	}
	return nil
}

// DeleteAll deletes every recorded resource and returns the types that
// could not be removed.
func (b *Broker) DeleteAll(ctx context.Context, projectName string) ([]string, error) {
	resources, err := b.List(ctx, projectName)
	if err != nil {
		return nil, err
	}

	var failed []string
	for _, r := range resources {
		if err := b.Delete(ctx, projectName, r.Type); err != nil {
			failed = append(failed, r.Type)
		}
	}
	return failed, nil
}
