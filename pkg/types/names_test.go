package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateProjectName tests name boundary rules
func TestValidateProjectName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple name accepted", input: "matrix", wantErr: false},
		{name: "internal hyphen accepted", input: "my-project", wantErr: false},
		{name: "digits accepted", input: "web2", wantErr: false},
		{name: "minimum length accepted", input: "abc", wantErr: false},
		{name: "maximum length accepted", input: "a123456789012345678901234567890123456789012345678901234567890ab", wantErr: false},
		{name: "too short rejected", input: "ab", wantErr: true},
		{name: "too long rejected", input: "a123456789012345678901234567890123456789012345678901234567890abc", wantErr: true},
		{name: "uppercase rejected", input: "Matrix", wantErr: true},
		{name: "leading hyphen rejected", input: "-matrix", wantErr: true},
		{name: "trailing hyphen rejected", input: "matrix-", wantErr: true},
		{name: "underscore rejected", input: "my_project", wantErr: true},
		{name: "dot rejected", input: "my.project", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var apiErr *Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, KindInvalidProjectName, apiErr.Kind)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestIsCCHProject tests the reserved prefix class
func TestIsCCHProject(t *testing.T) {
	assert.True(t, IsCCHProject("cch23-neo"))
	assert.True(t, IsCCHProject("cch"))
	assert.False(t, IsCCHProject("matrix"))
	assert.False(t, IsCCHProject("my-cch"))
}

// TestGenerateInitialKey tests key shape and uniqueness
func TestGenerateInitialKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		key, err := GenerateInitialKey()
		require.NoError(t, err)
		assert.Len(t, key, InitialKeyLength)
		for _, c := range key {
			assert.Contains(t, keyAlphabet, string(c))
		}
		assert.False(t, seen[key], "keys should not repeat")
		seen[key] = true
	}
}
