// Package azure registers the Azure storage-account controls.
package azure

import (
	"context"
	"fmt"

	"github.com/avelinecloud/compliancemgr/internal/controls"
	"github.com/avelinecloud/compliancemgr/internal/models"
	"github.com/avelinecloud/compliancemgr/internal/providers"
	azprovider "github.com/avelinecloud/compliancemgr/internal/providers/azure"
)

// Register adds every Azure control to the catalog.
func Register(catalog *controls.Catalog) error {
	for _, c := range []*controls.Control{
		secureTransferControl(),
		publicBlobAccessControl(),
	} {
		if err := catalog.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func secureTransferControl() *controls.Control {
	return &controls.Control{
		ControlID:   "AZ-STG-001",
		Title:       "Secure Transfer Required",
		Description: "Storage accounts must require HTTPS traffic",
		Severity:    models.SeverityHigh,
		Category:    "Storage",
		Provider:    models.ProviderAzure,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.2.3"},
			"SOC2":     {"CC6.7"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			accounts, err := adapter.ListResources(ctx, azprovider.KindStorageAccount)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, account := range accounts {
				if !attrBool(account.Attributes, "https_only") {
					seeds = append(seeds, models.FindingSeed{
						ResourceID:      account.ID,
						ResourceType:    "Storage::Account",
						FindingDetails:  map[string]interface{}{"account": account.Name},
						Evidence:        account.Attributes,
						RemediationRisk: models.RiskLow,
					})
				}
			}
			return seeds, nil
		},
	}
}

func publicBlobAccessControl() *controls.Control {
	return &controls.Control{
		ControlID:        "AZ-STG-002",
		Title:            "No Public Blob Access",
		Description:      "Storage accounts must not allow public blob access",
		Severity:         models.SeverityCritical,
		Category:         "Storage",
		Provider:         models.ProviderAzure,
		CanAutoRemediate: true,
		RemediationRisk:  models.RiskMedium,
		Frameworks: map[string][]string{
			"ISO27001": {"A.13.1.3"},
			"GDPR":     {"Art.32"},
		},
		Detect: func(ctx context.Context, adapter providers.Adapter) ([]models.FindingSeed, error) {
			accounts, err := adapter.ListResources(ctx, azprovider.KindStorageAccount)
			if err != nil {
				return nil, err
			}
			var seeds []models.FindingSeed
			for _, account := range accounts {
				if attrBool(account.Attributes, "public_blob_access") {
					seeds = append(seeds, models.FindingSeed{
						ResourceID:       account.ID,
						ResourceType:     "Storage::Account",
						FindingDetails:   map[string]interface{}{"account": account.Name},
						Evidence:         account.Attributes,
						CanAutoRemediate: true,
						RemediationRisk:  models.RiskMedium,
					})
				}
			}
			return seeds, nil
		},
		Remediate: func(ctx context.Context, adapter providers.Adapter, finding *models.Finding, dryRun bool) (*models.RemediationOutcome, error) {
			if finding.ResourceID == "" {
				return nil, fmt.Errorf("finding carries no storage account id")
			}

			outcome := &models.RemediationOutcome{
				Success:     true,
				ResourceID:  finding.ResourceID,
				BeforeState: finding.EvidenceBefore,
				AfterState:  map[string]interface{}{"public_blob_access": false},
				RollbackData: map[string]interface{}{
					"resource_id":        finding.ResourceID,
					"public_blob_access": attrBool(finding.EvidenceBefore, "public_blob_access"),
				},
			}
			if dryRun {
				return outcome, nil
			}

			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       azprovider.KindStorageAccount,
				ResourceID: finding.ResourceID,
				Action:     azprovider.ActionDisablePublicBlobAccess,
			})
			if err != nil {
				return nil, err
			}
			return outcome, nil
		},
		Rollback: func(ctx context.Context, adapter providers.Adapter, rollbackData map[string]interface{}) (*models.RemediationOutcome, error) {
			resourceID, _ := rollbackData["resource_id"].(string)
			if resourceID == "" {
				return nil, fmt.Errorf("rollback data carries no storage account id")
			}

			action := azprovider.ActionDisablePublicBlobAccess
			if attrBool(rollbackData, "public_blob_access") {
				action = azprovider.ActionEnablePublicBlobAccess
			}
			err := adapter.Apply(ctx, providers.Mutation{
				Kind:       azprovider.KindStorageAccount,
				ResourceID: resourceID,
				Action:     action,
			})
			if err != nil {
				return nil, err
			}
			return &models.RemediationOutcome{
				Success:    true,
				ResourceID: resourceID,
				AfterState: rollbackData,
			}, nil
		},
	}
}

func attrBool(attrs map[string]interface{}, key string) bool {
	v, _ := attrs[key].(bool)
	return v
}
