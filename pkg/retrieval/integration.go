package retrieval

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/pagination"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/workerpool"
)

// IntegrationConfig is the backup record of one integration. Actions are nil
// for integrations that do not support them.
type IntegrationConfig struct {
	Integration        opsgenie.Integration        `json:"integration"`
	IntegrationActions *opsgenie.ActionCategorized `json:"integrationActions,omitempty"`
}

// IntegrationRetriever retrieves integrations with their actions.
type IntegrationRetriever struct {
	integrations opsgenie.IntegrationAPI
	actions      opsgenie.IntegrationActionAPI
	executor     *retry.Executor
	limiter      Limiter
	config       Config
	logger       zerolog.Logger
}

var _ EntityRetriever[IntegrationConfig] = (*IntegrationRetriever)(nil)

// NewIntegrationRetriever creates an integration retriever.
func NewIntegrationRetriever(
	integrations opsgenie.IntegrationAPI,
	actions opsgenie.IntegrationActionAPI,
	executor *retry.Executor,
	limiter Limiter,
	config Config,
	logger zerolog.Logger,
) *IntegrationRetriever {
	return &IntegrationRetriever{
		integrations: integrations,
		actions:      actions,
		executor:     executor,
		limiter:      limiter,
		config:       config.withDefaults(),
		logger:       logger.With().Str("component", "integration-retriever").Logger(),
	}
}

// RetrieveEntities returns every integration sorted by name, then ID.
func (r *IntegrationRetriever) RetrieveEntities(ctx context.Context) ([]IntegrationConfig, error) {
	start := time.Now()
	r.logger.Info().Msg("Retrieving current integration configurations")

	metas, err := retry.Invoke(ctx, r.executor, r.integrations.ListIntegrations)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	metas, dropped := pagination.Unique(metas, func(m opsgenie.IntegrationMeta) string { return m.ID })
	if dropped > 0 {
		r.logger.Warn().Int("duplicates", dropped).Msg("Dropped duplicate integrations from listing")
	}

	workers := r.limiter.Limit(ctx, r.config.PoolDomain, r.config.Baseline)
	poolCfg := workerpool.DefaultConfig("integrations")
	poolCfg.Concurrency = workers
	poolCfg.ProgressInterval = r.config.ProgressInterval
	poolCfg.Logger = &r.logger

	pool := workerpool.New[opsgenie.IntegrationMeta, IntegrationConfig](poolCfg, func(m opsgenie.IntegrationMeta) string {
		return fmt.Sprintf("integration id=%s name=%s", m.ID, m.Name)
	})
	res := pool.Run(ctx, metas, r.retrieveOne)

	configs := res.Results
	slices.SortFunc(configs, func(a, b IntegrationConfig) int {
		if c := compareFold(a.Integration.Name, b.Integration.Name); c != 0 {
			return c
		}
		return compareFold(a.Integration.ID, b.Integration.ID)
	})

	logSummary(r.logger, "integrations", len(configs), len(metas), time.Since(start))
	return configs, nil
}

// retrieveOne builds the record of a single integration. The detail is
// mandatory; actions are optional.
func (r *IntegrationRetriever) retrieveOne(ctx context.Context, meta opsgenie.IntegrationMeta) (IntegrationConfig, error) {
	integration, err := retry.InvokeDomain(ctx, r.executor, ratelimit.DomainConfiguration,
		func(ctx context.Context) (*opsgenie.Integration, error) {
			return r.integrations.GetIntegration(ctx, meta.ID)
		})
	if err != nil {
		return IntegrationConfig{}, fmt.Errorf("get integration: %w", err)
	}

	// The detail response does not carry the id
	integration.ID = meta.ID
	SortReadOnly(integration.ReadOnly)

	config := IntegrationConfig{Integration: *integration}

	actions := enrich(ctx, r.executor, ratelimit.DomainConfiguration,
		func(ctx context.Context) (*opsgenie.ActionCategorized, error) {
			return r.actions.ListIntegrationActions(ctx, meta.ID)
		})
	switch actions.Outcome {
	case Found:
		config.IntegrationActions = actions.Value
	case NotApplicable:
		r.logger.Debug().
			Str("id", meta.ID).
			Str("name", integration.Name).
			Msg("Not an advanced integration, skipping actions")
	case Failed:
		return IntegrationConfig{}, fmt.Errorf("list integration actions: %w", actions.Err)
	}

	return config, nil
}

// SortReadOnly sorts read-only field names case-insensitively in place.
func SortReadOnly(fields []string) {
	slices.SortStableFunc(fields, compareFold)
}
