package application

import (
	"context"
	"fmt"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Metadata keys recorded at registration time and required at deletion time.
const (
	metaOrgID  = "org_id"
	metaShared = "shared"
)

// deletionClients carries the per-credential platform clients a deleter may need.
type deletionClients struct {
	source driven.SourceHostClient
	ci     driven.CIPlatformClient
}

// resourceDeleter is the kind-tagged deletion variant for one resource. Each
// variant carries exactly the fields its platform call requires; metadata
// completeness is validated when the variant is decoded, not when it runs.
type resourceDeleter interface {
	// Shared reports that the resource is shared/non-owned: never delete,
	// count as a no-op success.
	Shared() bool
	Delete(ctx context.Context, clients deletionClients) error
}

// deleterFor decodes the deletion variant for a ledger resource.
func deleterFor(res model.Resource) (resourceDeleter, error) {
	switch res.Kind {
	case model.ResourceKindRepository:
		if res.ExternalRef == "" {
			return nil, fmt.Errorf("resource %s: repository deletion requires external_ref", res.ID)
		}
		return repositoryDeleter{fullName: res.ExternalRef}, nil

	case model.ResourceKindComponent:
		orgID, err := requireMeta(res, metaOrgID)
		if err != nil {
			return nil, err
		}
		return componentDeleter{orgID: orgID, componentID: res.ExternalRef}, nil

	case model.ResourceKindEnvironment:
		orgID, err := requireMeta(res, metaOrgID)
		if err != nil {
			return nil, err
		}
		return environmentDeleter{orgID: orgID, environmentID: res.ExternalRef}, nil

	case model.ResourceKindApplication:
		orgID, err := requireMeta(res, metaOrgID)
		if err != nil {
			return nil, err
		}
		return applicationDeleter{orgID: orgID, applicationID: res.ExternalRef}, nil

	case model.ResourceKindFlag:
		if res.Metadata[metaShared] == "true" {
			return flagDeleter{shared: true}, nil
		}
		orgID, err := requireMeta(res, metaOrgID)
		if err != nil {
			return nil, err
		}
		return flagDeleter{orgID: orgID, flagKey: res.ExternalRef}, nil

	default:
		return nil, fmt.Errorf("resource %s: unknown kind %q", res.ID, res.Kind)
	}
}

func requireMeta(res model.Resource, key string) (string, error) {
	v := res.Metadata[key]
	if v == "" {
		return "", fmt.Errorf("resource %s (%s): metadata missing %q", res.ID, res.Kind, key)
	}
	if res.ExternalRef == "" {
		return "", fmt.Errorf("resource %s (%s): missing external_ref", res.ID, res.Kind)
	}
	return v, nil
}

type repositoryDeleter struct {
	fullName string
}

func (repositoryDeleter) Shared() bool { return false }

func (d repositoryDeleter) Delete(ctx context.Context, clients deletionClients) error {
	return clients.source.DeleteRepo(ctx, d.fullName)
}

type componentDeleter struct {
	orgID       string
	componentID string
}

func (componentDeleter) Shared() bool { return false }

func (d componentDeleter) Delete(ctx context.Context, clients deletionClients) error {
	return clients.ci.DeleteComponent(ctx, d.orgID, d.componentID)
}

type environmentDeleter struct {
	orgID         string
	environmentID string
}

func (environmentDeleter) Shared() bool { return false }

func (d environmentDeleter) Delete(ctx context.Context, clients deletionClients) error {
	return clients.ci.DeleteEnvironment(ctx, d.orgID, d.environmentID)
}

type applicationDeleter struct {
	orgID         string
	applicationID string
}

func (applicationDeleter) Shared() bool { return false }

func (d applicationDeleter) Delete(ctx context.Context, clients deletionClients) error {
	return clients.ci.DeleteApplication(ctx, d.orgID, d.applicationID)
}

type flagDeleter struct {
	orgID   string
	flagKey string
	shared  bool
}

func (d flagDeleter) Shared() bool { return d.shared }

func (d flagDeleter) Delete(ctx context.Context, clients deletionClients) error {
	return clients.ci.DeleteFlag(ctx, d.orgID, d.flagKey)
}
