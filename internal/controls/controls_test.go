package controls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
)

func noopDetect(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
	return nil, nil
}

func testControl(id string, provider models.Provider, frameworks map[string][]string) *Control {
	return &Control{
		ControlID:  id,
		Title:      "Test " + id,
		Severity:   models.SeverityMedium,
		Category:   "Test",
		Provider:   provider,
		Frameworks: frameworks,
		Detect:     noopDetect,
	}
}

func TestCatalogRegisterAndGet(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-001", models.ProviderAWS, nil)))

	control, err := catalog.Get("AWS-S3-001")
	require.NoError(t, err)
	assert.Equal(t, "AWS-S3-001", control.ControlID)

	_, err = catalog.Get("AWS-S3-999")
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-001", models.ProviderAWS, nil)))

	err := catalog.Register(testControl("AWS-S3-001", models.ProviderAWS, nil))
	assert.True(t, errors.Is(err, errors.KindValidation))
}

func TestCatalogRejectsMissingDetect(t *testing.T) {
	catalog := NewCatalog()
	err := catalog.Register(&Control{ControlID: "AWS-X-001", Provider: models.ProviderAWS})
	assert.True(t, errors.Is(err, errors.KindValidation))
}

func TestCatalogFreeze(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-001", models.ProviderAWS, nil)))
	catalog.Freeze()

	err := catalog.Register(testControl("AWS-S3-002", models.ProviderAWS, nil))
	assert.Error(t, err)
	assert.Equal(t, 1, catalog.Len())
}

func TestCatalogByProviderSorted(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-002", models.ProviderAWS, nil)))
	require.NoError(t, catalog.Register(testControl("AWS-IAM-001", models.ProviderAWS, nil)))
	require.NoError(t, catalog.Register(testControl("AZ-STG-001", models.ProviderAzure, nil)))

	aws := catalog.ByProvider(models.ProviderAWS)
	require.Len(t, aws, 2)
	assert.Equal(t, "AWS-IAM-001", aws[0].ControlID)
	assert.Equal(t, "AWS-S3-002", aws[1].ControlID)

	azure := catalog.ByProvider(models.ProviderAzure)
	require.Len(t, azure, 1)
	assert.Equal(t, "AZ-STG-001", azure[0].ControlID)
}

func TestCatalogByFramework(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-001", models.ProviderAWS,
		map[string][]string{"GDPR": {"Art.32"}})))
	require.NoError(t, catalog.Register(testControl("AWS-IAM-001", models.ProviderAWS,
		map[string][]string{"SOC2": {"CC6.1"}})))

	gdpr := catalog.ByFramework("GDPR")
	require.Len(t, gdpr, 1)
	assert.Equal(t, "AWS-S3-001", gdpr[0].ControlID)

	assert.Empty(t, catalog.ByFramework("HIPAA"))
}

func TestCatalogSelect(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(testControl("AWS-S3-001", models.ProviderAWS, nil)))
	require.NoError(t, catalog.Register(testControl("AWS-IAM-001", models.ProviderAWS, nil)))

	all, err := catalog.Select(models.ProviderAWS, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := catalog.Select(models.ProviderAWS, []string{"AWS-S3-001"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "AWS-S3-001", one[0].ControlID)

	_, err = catalog.Select(models.ProviderAWS, []string{"AWS-NOPE-001"})
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func TestControlRemediable(t *testing.T) {
	c := testControl("AWS-S3-001", models.ProviderAWS, nil)
	assert.False(t, c.Remediable())

	c.Remediate = func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
		return &models.RemediationOutcome{Success: true}, nil
	}
	assert.True(t, c.Remediable())
}
