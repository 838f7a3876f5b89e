// Package azure implements the provider adapter over the Azure SDK. The
// surface is narrower than AWS: storage accounts are the resource family the
// registered Azure controls evaluate.
package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/avelinecloud/compliancemgr/internal/providers"
	"github.com/avelinecloud/compliancemgr/internal/resilience"
)

// Resource kinds the Azure adapter serves.
const (
	KindStorageAccount providers.ResourceKind = "storage:account"
)

// Mutation actions the Azure adapter applies.
const (
	ActionDisablePublicBlobAccess = "disable_public_blob_access"
	ActionEnablePublicBlobAccess  = "enable_public_blob_access"
	ActionRequireSecureTransfer   = "require_secure_transfer"
)

// Adapter implements providers.Adapter for Azure.
type Adapter struct {
	subscriptionID string
	accounts       *armstorage.AccountsClient
	retry          *resilience.RetryConfig
}

// New builds an adapter from the account's credentials blob, which carries
// tenant_id, client_id, client_secret, and subscription_id.
func New(ctx context.Context, creds map[string]interface{}) (*Adapter, error) {
	tenantID, _ := creds["tenant_id"].(string)
	clientID, _ := creds["client_id"].(string)
	clientSecret, _ := creds["client_secret"].(string)
	subscriptionID, _ := creds["subscription_id"].(string)
	if tenantID == "" || clientID == "" || clientSecret == "" || subscriptionID == "" {
		return nil, providers.NewError(providers.ErrPermanent, "configure", "",
			fmt.Errorf("azure credentials require tenant_id, client_id, client_secret, subscription_id"))
	}

	credential, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, providers.NewError(providers.ErrPermanent, "configure", "", err)
	}
	accounts, err := armstorage.NewAccountsClient(subscriptionID, credential, nil)
	if err != nil {
		return nil, providers.NewError(providers.ErrPermanent, "configure", "", err)
	}

	return &Adapter{
		subscriptionID: subscriptionID,
		accounts:       accounts,
		retry:          resilience.CloudProviderRetryConfig(),
	}, nil
}

// Provider returns "azure"
func (a *Adapter) Provider() string {
	return "azure"
}

func (a *Adapter) call(ctx context.Context, op, resource string, fn func(context.Context) error) error {
	return resilience.Retry(ctx, a.retry, providers.IsRetryable, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return classify(op, resource, err)
		}
		return nil
	})
}

func classify(op, resource string, err error) *providers.Error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return providers.NewError(providers.ErrNotFound, op, resource, err)
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return providers.NewError(providers.ErrAccessDenied, op, resource, err)
		case respErr.StatusCode == 429:
			return providers.NewError(providers.ErrThrottled, op, resource, err)
		case respErr.StatusCode >= 500:
			return providers.NewError(providers.ErrTransient, op, resource, err)
		}
		return providers.NewError(providers.ErrPermanent, op, resource, err)
	}
	return providers.NewError(providers.ErrPermanent, op, resource, err)
}

// ListResources returns the complete collection for a kind.
func (a *Adapter) ListResources(ctx context.Context, kind providers.ResourceKind) ([]providers.Resource, error) {
	switch kind {
	case KindStorageAccount:
		return a.listStorageAccounts(ctx)
	default:
		return nil, providers.NewError(providers.ErrPermanent, "list", string(kind),
			fmt.Errorf("unsupported resource kind %q", kind))
	}
}

func (a *Adapter) listStorageAccounts(ctx context.Context) ([]providers.Resource, error) {
	var resources []providers.Resource
	err := a.call(ctx, "storage:ListAccounts", "", func(ctx context.Context) error {
		resources = resources[:0]
		pager := a.accounts.NewListPager(nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, account := range page.Value {
				if account == nil {
					continue
				}
				attrs := map[string]interface{}{
					"account": deref(account.Name),
				}
				if account.Properties != nil {
					attrs["https_only"] = boolValue(account.Properties.EnableHTTPSTrafficOnly)
					attrs["public_blob_access"] = boolValue(account.Properties.AllowBlobPublicAccess)
				}
				resources = append(resources, providers.Resource{
					ID:         deref(account.ID),
					Kind:       KindStorageAccount,
					Name:       deref(account.Name),
					Region:     deref(account.Location),
					Attributes: attrs,
				})
			}
		}
		return nil
	})
	return resources, err
}

// Describe returns a single storage account by ARM id or name.
func (a *Adapter) Describe(ctx context.Context, kind providers.ResourceKind, id string) (*providers.Resource, error) {
	resources, err := a.ListResources(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range resources {
		if resources[i].ID == id || resources[i].Name == id {
			return &resources[i], nil
		}
	}
	return nil, providers.NewError(providers.ErrNotFound, "describe", id, fmt.Errorf("%s %q not found", kind, id))
}

// Apply executes one mutation against a storage account.
func (a *Adapter) Apply(ctx context.Context, mutation providers.Mutation) error {
	resourceGroup, name, err := parseAccountID(mutation.ResourceID)
	if err != nil {
		return providers.NewError(providers.ErrPermanent, "apply", mutation.ResourceID, err)
	}

	var properties armstorage.AccountPropertiesUpdateParameters
	switch mutation.Action {
	case ActionDisablePublicBlobAccess:
		properties.AllowBlobPublicAccess = to.Ptr(false)
	case ActionEnablePublicBlobAccess:
		properties.AllowBlobPublicAccess = to.Ptr(true)
	case ActionRequireSecureTransfer:
		properties.EnableHTTPSTrafficOnly = to.Ptr(true)
	default:
		return providers.NewError(providers.ErrPermanent, "apply", mutation.ResourceID,
			fmt.Errorf("unsupported mutation action %q", mutation.Action))
	}

	return a.call(ctx, "storage:UpdateAccount", name, func(ctx context.Context) error {
		_, err := a.accounts.Update(ctx, resourceGroup, name, armstorage.AccountUpdateParameters{
			Properties: &properties,
		}, nil)
		return err
	})
}

// parseAccountID extracts the resource group and account name from an ARM
// id of the form /subscriptions/{sub}/resourceGroups/{rg}/providers/
// Microsoft.Storage/storageAccounts/{name}.
func parseAccountID(id string) (resourceGroup, name string, err error) {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		switch strings.ToLower(parts[i]) {
		case "resourcegroups":
			resourceGroup = parts[i+1]
		case "storageaccounts":
			name = parts[i+1]
		}
	}
	if resourceGroup == "" || name == "" {
		return "", "", fmt.Errorf("cannot parse storage account id %q", id)
	}
	return resourceGroup, name, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
