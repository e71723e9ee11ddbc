package intake

import (
	"context"
	"fmt"
	"regexp"

	"github.com/cuemby/relay/pkg/types"
)

// Request is an operator's raw deploy request, validated and turned into a
// persisted deployment document.
type Request struct {
	Application string
	Environment string
	Region      string
	User        string
	AMI         string
	Message     string
}

// ConfigSource loads the deployment's config hash and merged parameters from
// whatever external system owns per-application/environment configuration.
type ConfigSource func(ctx context.Context, application, environment, region string) (hash string, parameters types.Parameters, err error)

// DeploymentStore is the subset of pkg/store.Store the intake adapter needs.
type DeploymentStore interface {
	Upsert(d *types.Deployment) error
}

// Enqueuer is the subset of pkg/kvstore.Client the intake adapter needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte) error
}

// amiApplicationPattern extracts the leading application token from an AMI
// tag of the form "{application}-{build}" or "{application}_{build}".
var amiApplicationPattern = regexp.MustCompile(`^([a-zA-Z0-9]+)[-_]`)

// ApplicationFromAMI returns the application name embedded in an AMI tag.
func ApplicationFromAMI(ami string) (string, bool) {
	m := amiApplicationPattern.FindStringSubmatch(ami)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Intaker validates and admits deploy requests.
type Intaker struct {
	store  DeploymentStore
	queue  Enqueuer
	config ConfigSource
}

// New builds an Intaker.
func New(store DeploymentStore, queue Enqueuer, config ConfigSource) *Intaker {
	return &Intaker{store: store, queue: queue, config: config}
}

// Submit validates req, builds and persists the deployment document, and
// enqueues it. It does not enforce mutual exclusion or the global lock —
// that belongs to the orchestrator at consumption time.
func (i *Intaker) Submit(ctx context.Context, req Request) (*types.Deployment, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	app, ok := ApplicationFromAMI(req.AMI)
	if !ok || app != req.Application {
		return nil, types.NewError(types.KindImageMismatch,
			fmt.Sprintf("AMI %q does not belong to application %q", req.AMI, req.Application))
	}

	hash, parameters, err := i.config(ctx, req.Application, req.Environment, req.Region)
	if err != nil {
		return nil, fmt.Errorf("intake: load configuration: %w", err)
	}

	d := types.NewDeployment(req.Application, req.Environment, req.Region, req.AMI, req.User, req.Message, parameters)
	d.ConfigHash = hash

	if err := i.store.Upsert(d); err != nil {
		return nil, fmt.Errorf("intake: persist deployment: %w", err)
	}

	payload := fmt.Sprintf(`{"deployment_id":%q}`, d.DeploymentID)
	if err := i.queue.Enqueue(ctx, []byte(payload)); err != nil {
		return nil, fmt.Errorf("intake: enqueue deployment: %w", err)
	}

	return d, nil
}

func validate(req Request) error {
	missing := func(field, value string) error {
		if value == "" {
			return types.NewError(types.KindValidation, fmt.Sprintf("%s is required", field))
		}
		return nil
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"application", req.Application},
		{"environment", req.Environment},
		{"region", req.Region},
		{"user", req.User},
		{"ami", req.AMI},
	} {
		if err := missing(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}
