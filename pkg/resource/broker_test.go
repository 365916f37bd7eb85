package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangarlabs/hangar/pkg/types"
)

func TestListResources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/matrix/resources", r.URL.Path)
		json.NewEncoder(w).Encode([]types.Resource{
			{Type: "database::shared::postgres"},
			{Type: "secrets"},
		})
	}))
	defer srv.Close()

	b := NewBroker(srv.URL)
	resources, err := b.List(context.Background(), "matrix")
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "database::shared::postgres", resources[0].Type)
}

func TestListUnknownProjectIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := NewBroker(srv.URL)
	resources, err := b.List(context.Background(), "matrix")
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestDeleteAllReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]types.Resource{
				{Type: "database::shared::postgres"},
				{Type: "secrets"},
			})
		case r.URL.Path == "/projects/matrix/resources/secrets":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	b := NewBroker(srv.URL)
	failed, err := b.DeleteAll(context.Background(), "matrix")
	require.NoError(t, err)
	assert.Equal(t, []string{"database::shared::postgres"}, failed)
}

func TestDeleteToleratesAlreadyGone(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := NewBroker(srv.URL)
	assert.NoError(t, b.Delete(context.Background(), "matrix", "secrets"))
}
