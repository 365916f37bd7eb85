package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrorStatusMapping tests the taxonomy to HTTP status mapping
func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		status int
	}{
		{KindProjectNotFound, http.StatusNotFound},
		{KindCustomDomainNotFound, http.StatusNotFound},
		{KindBadHost, http.StatusNotFound},
		{KindInvalidProjectName, http.StatusBadRequest},
		{KindProjectAlreadyExists, http.StatusBadRequest},
		{KindProjectHasBuildingDeployment, http.StatusBadRequest},
		{KindProjectLimitExceeded, http.StatusForbidden},
		{KindProjectHasRunningDeployment, http.StatusForbidden},
		{KindProjectHasResources, http.StatusForbidden},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindProjectNotReady, http.StatusServiceUnavailable},
		{KindCapacityExhausted, http.StatusServiceUnavailable},
		{KindUpstream, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, NewError(tt.kind).Status())
		})
	}
}

// TestErrorWrapping tests that causes stay out of the message but unwrap
func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindInternal, cause)

	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Message, "disk full")
}

// TestProjectHasResources tests the resource list message
func TestProjectHasResources(t *testing.T) {
	err := ProjectHasResources([]string{"database", "secrets"})

	assert.Equal(t, KindProjectHasResources, err.Kind)
	assert.Contains(t, err.Message, "database, secrets")
}

// TestTruncateGitStrings tests sender-side git metadata truncation
func TestTruncateGitStrings(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'x'
	}

	meta := DeploymentMeta{
		GitCommitID:  string(long),
		GitCommitMsg: "short summary",
		GitBranch:    string(long),
	}
	meta.TruncateGitStrings()

	assert.Len(t, meta.GitCommitID, GitStringsMaxLength)
	assert.Len(t, meta.GitBranch, GitStringsMaxLength)
	assert.Equal(t, "short summary", meta.GitCommitMsg)
}
