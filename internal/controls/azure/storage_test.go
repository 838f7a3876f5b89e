package azure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	azprovider "github.com/avelinecloud/compliancemgr/internal/providers/azure"
	"github.com/avelinecloud/compliancemgr/internal/providers/mock"
)

const accountID = "/subscriptions/sub-1/resourceGroups/rg-prod/providers/Microsoft.Storage/storageAccounts/acct1"

func storageAccount(httpsOnly, publicBlobAccess bool) providers.Resource {
	return providers.Resource{
		ID:     accountID,
		Kind:   azprovider.KindStorageAccount,
		Name:   "acct1",
		Region: "eastus",
		Attributes: map[string]interface{}{
			"account":            "acct1",
			"https_only":         httpsOnly,
			"public_blob_access": publicBlobAccess,
		},
	}
}

func TestRegisterAll(t *testing.T) {
	catalog := controls.NewCatalog()
	require.NoError(t, Register(catalog))
	assert.Equal(t, 2, catalog.Len())

	blob, err := catalog.Get("AZ-STG-002")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, blob.Severity)
	assert.True(t, blob.Remediable())
	assert.NotNil(t, blob.Rollback)

	transfer, err := catalog.Get("AZ-STG-001")
	require.NoError(t, err)
	assert.False(t, transfer.Remediable())
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name      string
		control   *controls.Control
		account   providers.Resource
		wantSeeds int
	}{
		{"secure transfer missing", secureTransferControl(), storageAccount(false, false), 1},
		{"secure transfer enforced", secureTransferControl(), storageAccount(true, false), 0},
		{"public blob access open", publicBlobAccessControl(), storageAccount(true, true), 1},
		{"public blob access blocked", publicBlobAccessControl(), storageAccount(true, false), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := mock.New().WithProvider("azure").AddResource(tt.account)

			seeds, err := tt.control.Detect(context.Background(), adapter)
			require.NoError(t, err)
			require.Len(t, seeds, tt.wantSeeds)
			if tt.wantSeeds > 0 {
				assert.Equal(t, accountID, seeds[0].ResourceID)
				assert.Equal(t, "Storage::Account", seeds[0].ResourceType)
				assert.Equal(t, "acct1", seeds[0].FindingDetails["account"])
			}
		})
	}
}

func TestDetectSurfacesAdapterError(t *testing.T) {
	denied := providers.NewError(providers.ErrAccessDenied, "storage:ListAccounts", "", errors.New("403"))
	adapter := mock.New().WithProvider("azure").FailKind(azprovider.KindStorageAccount, denied)

	_, err := publicBlobAccessControl().Detect(context.Background(), adapter)
	require.Error(t, err)
	assert.Equal(t, providers.ErrAccessDenied, providers.ClassOf(err))
}

func TestPublicBlobAccessRemediateDryRun(t *testing.T) {
	control := publicBlobAccessControl()
	adapter := mock.New().WithProvider("azure").AddResource(storageAccount(true, true))
	finding := &models.Finding{
		ResourceID:     accountID,
		EvidenceBefore: storageAccount(true, true).Attributes,
	}

	outcome, err := control.Remediate(context.Background(), adapter, finding, true)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, map[string]interface{}{"public_blob_access": false}, outcome.AfterState)
	assert.NotNil(t, outcome.RollbackData)
	assert.Empty(t, adapter.Mutations, "dry run must not mutate the cloud")
}

func TestPublicBlobAccessRemediateAndRollback(t *testing.T) {
	control := publicBlobAccessControl()
	adapter := mock.New().WithProvider("azure").AddResource(storageAccount(true, true))
	finding := &models.Finding{
		ResourceID:     accountID,
		EvidenceBefore: storageAccount(true, true).Attributes,
	}

	outcome, err := control.Remediate(context.Background(), adapter, finding, false)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Len(t, adapter.Mutations, 1)
	assert.Equal(t, azprovider.ActionDisablePublicBlobAccess, adapter.Mutations[0].Action)

	fixed, err := adapter.Describe(context.Background(), azprovider.KindStorageAccount, "acct1")
	require.NoError(t, err)
	assert.Equal(t, false, fixed.Attributes["public_blob_access"])

	// Rollback restores the captured prior setting exactly.
	rolled, err := control.Rollback(context.Background(), adapter, outcome.RollbackData)
	require.NoError(t, err)
	assert.True(t, rolled.Success)

	restored, err := adapter.Describe(context.Background(), azprovider.KindStorageAccount, "acct1")
	require.NoError(t, err)
	assert.Equal(t, true, restored.Attributes["public_blob_access"])
}

func TestPublicBlobAccessRollbackKeepsBlockedState(t *testing.T) {
	control := publicBlobAccessControl()
	adapter := mock.New().WithProvider("azure").AddResource(storageAccount(true, false))

	// A finding captured against an already-blocked account rolls back to
	// blocked, not open.
	rolled, err := control.Rollback(context.Background(), adapter, map[string]interface{}{
		"resource_id":        accountID,
		"public_blob_access": false,
	})
	require.NoError(t, err)
	assert.True(t, rolled.Success)

	account, err := adapter.Describe(context.Background(), azprovider.KindStorageAccount, "acct1")
	require.NoError(t, err)
	assert.Equal(t, false, account.Attributes["public_blob_access"])
}

func TestRemediateRejectsEmptyResource(t *testing.T) {
	control := publicBlobAccessControl()
	adapter := mock.New().WithProvider("azure")

	_, err := control.Remediate(context.Background(), adapter, &models.Finding{}, false)
	assert.Error(t, err)

	_, err = control.Rollback(context.Background(), adapter, map[string]interface{}{})
	assert.Error(t, err)
}

func TestRemediateSurfacesApplyFailure(t *testing.T) {
	control := publicBlobAccessControl()
	denied := providers.NewError(providers.ErrAccessDenied, "storage:UpdateAccount", "acct1", errors.New("403"))
	adapter := mock.New().WithProvider("azure").AddResource(storageAccount(true, true)).FailApply(denied)
	finding := &models.Finding{
		ResourceID:     accountID,
		EvidenceBefore: storageAccount(true, true).Attributes,
	}

	_, err := control.Remediate(context.Background(), adapter, finding, false)
	require.Error(t, err)
	assert.Equal(t, providers.ErrAccessDenied, providers.ClassOf(err))
}
