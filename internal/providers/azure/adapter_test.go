package azure

import (
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/providers"
)

func TestParseAccountID(t *testing.T) {
	id := "/subscriptions/sub-1/resourceGroups/rg-prod/providers/Microsoft.Storage/storageAccounts/acct1"
	rg, name, err := parseAccountID(id)
	require.NoError(t, err)
	assert.Equal(t, "rg-prod", rg)
	assert.Equal(t, "acct1", name)
}

func TestParseAccountIDRejectsGarbage(t *testing.T) {
	_, _, err := parseAccountID("/subscriptions/sub-1")
	assert.Error(t, err)

	_, _, err = parseAccountID("")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   providers.ErrorClass
	}{
		{"not found", 404, providers.ErrNotFound},
		{"unauthorized", 401, providers.ErrAccessDenied},
		{"forbidden", 403, providers.ErrAccessDenied},
		{"throttled", 429, providers.ErrThrottled},
		{"server error", 500, providers.ErrTransient},
		{"bad request", 400, providers.ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", "res", &azcore.ResponseError{StatusCode: tt.status})
			assert.Equal(t, tt.want, err.Class)
		})
	}

	plain := classify("op", "res", errors.New("boom"))
	assert.Equal(t, providers.ErrPermanent, plain.Class)
}

func TestNewRejectsIncompleteCredentials(t *testing.T) {
	_, err := New(nil, map[string]interface{}{"tenant_id": "t"})
	assert.Error(t, err)
	assert.Equal(t, providers.ErrPermanent, providers.ClassOf(err))
}
