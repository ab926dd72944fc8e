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

// UserConfig is the backup record of one user: the user with its contacts
// and its notification rules sorted by ID.
type UserConfig struct {
	User              opsgenie.User               `json:"user"`
	NotificationRules []opsgenie.NotificationRule `json:"notificationRuleList"`
}

// UserRetriever retrieves users with contacts and notification rules.
type UserRetriever struct {
	users    opsgenie.UserAPI
	rules    opsgenie.NotificationRuleAPI
	executor *retry.Executor
	limiter  Limiter
	config   Config
	logger   zerolog.Logger
}

var _ EntityRetriever[UserConfig] = (*UserRetriever)(nil)

// NewUserRetriever creates a user retriever.
func NewUserRetriever(
	users opsgenie.UserAPI,
	rules opsgenie.NotificationRuleAPI,
	executor *retry.Executor,
	limiter Limiter,
	config Config,
	logger zerolog.Logger,
) *UserRetriever {
	return &UserRetriever{
		users:    users,
		rules:    rules,
		executor: executor,
		limiter:  limiter,
		config:   config.withDefaults(),
		logger:   logger.With().Str("component", "user-retriever").Logger(),
	}
}

// RetrieveEntities returns every user sorted by username, then ID.
//
// Contact enrichment drains completely before notification rules are
// fetched. A user whose contacts or rule list cannot be read is excluded; a
// single rule that cannot be read is skipped.
func (r *UserRetriever) RetrieveEntities(ctx context.Context) ([]UserConfig, error) {
	start := time.Now()
	r.logger.Info().Msg("Retrieving current user configurations")

	users, err := r.listUsers(ctx)
	if err != nil {
		return nil, err
	}
	total := len(users)

	workers := r.limiter.Limit(ctx, r.config.PoolDomain, r.config.Baseline)
	label := func(u opsgenie.User) string {
		return fmt.Sprintf("user id=%s username=%s", u.ID, u.Username)
	}

	contacts := workerpool.New[opsgenie.User, opsgenie.User](r.poolConfig("user-contacts", workers), label).
		Run(ctx, users, r.populateContacts)

	// The budget may have tightened during the first phase
	workers = r.limiter.Limit(ctx, r.config.PoolDomain, r.config.Baseline)
	withRules := workerpool.New[opsgenie.User, UserConfig](r.poolConfig("user-notification-rules", workers), label).
		Run(ctx, contacts.Results, r.populateNotificationRules)

	configs := withRules.Results
	slices.SortFunc(configs, func(a, b UserConfig) int {
		if c := compareFold(a.User.Username, b.User.Username); c != 0 {
			return c
		}
		return compareFold(a.User.ID, b.User.ID)
	})

	logSummary(r.logger, "users", len(configs), total, time.Since(start))
	return configs, nil
}

func (r *UserRetriever) poolConfig(name string, workers int) workerpool.Config {
	cfg := workerpool.DefaultConfig(name)
	cfg.Concurrency = workers
	cfg.ProgressInterval = r.config.ProgressInterval
	cfg.Logger = &r.logger
	return cfg
}

func (r *UserRetriever) listUsers(ctx context.Context) ([]opsgenie.User, error) {
	fetcher := pagination.NewFetcher(r.executor, pagination.Config{
		PageSize: r.config.PageSize,
		Domain:   ratelimit.DomainSearch,
		Name:     "users",
	}, r.logger)

	users, err := pagination.FetchAll(ctx, fetcher, func(ctx context.Context, offset, limit int) (pagination.Page[opsgenie.User], error) {
		resp, err := r.users.ListUsers(ctx, opsgenie.ListUsersRequest{Offset: offset, Limit: limit})
		if err != nil {
			return pagination.Page[opsgenie.User]{}, err
		}
		return pagination.Page[opsgenie.User]{Items: resp.Users, TotalCount: resp.TotalCount}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users, dropped := pagination.Unique(users, func(u opsgenie.User) string { return u.ID })
	if dropped > 0 {
		r.logger.Warn().Int("duplicates", dropped).Msg("Dropped duplicate users from listing")
	}
	return users, nil
}

// populateContacts re-reads the user with its contact methods.
func (r *UserRetriever) populateContacts(ctx context.Context, user opsgenie.User) (opsgenie.User, error) {
	full, err := retry.InvokeDomain(ctx, r.executor, ratelimit.DomainConfiguration,
		func(ctx context.Context) (*opsgenie.User, error) {
			return r.users.GetUser(ctx, opsgenie.GetUserRequest{
				Identifier: user.ID,
				Expand:     []string{opsgenie.ExpandContact},
			})
		})
	if err != nil {
		return opsgenie.User{}, fmt.Errorf("get user contacts: %w", err)
	}
	return *full, nil
}

// populateNotificationRules lists the user's rules and fetches each one in
// turn.
func (r *UserRetriever) populateNotificationRules(ctx context.Context, user opsgenie.User) (UserConfig, error) {
	metas, err := retry.InvokeDomain(ctx, r.executor, ratelimit.DomainConfiguration,
		func(ctx context.Context) ([]opsgenie.NotificationRuleMeta, error) {
			return r.rules.ListNotificationRules(ctx, user.ID)
		})
	if err != nil {
		return UserConfig{}, fmt.Errorf("list notification rules: %w", err)
	}

	rules := make([]opsgenie.NotificationRule, 0, len(metas))
	for _, meta := range metas {
		rule, err := retry.InvokeDomain(ctx, r.executor, ratelimit.DomainConfiguration,
			func(ctx context.Context) (*opsgenie.NotificationRule, error) {
				return r.rules.GetNotificationRule(ctx, user.ID, meta.ID)
			})
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("user", user.Username).
				Str("rule_id", meta.ID).
				Msg("Could not retrieve notification rule, skipping")
			continue
		}
		rules = append(rules, *rule)
	}
	SortNotificationRules(rules)

	return UserConfig{User: user, NotificationRules: rules}, nil
}

// SortNotificationRules sorts rules by ID case-insensitively in place.
func SortNotificationRules(rules []opsgenie.NotificationRule) {
	slices.SortStableFunc(rules, func(a, b opsgenie.NotificationRule) int {
		return compareFold(a.ID, b.ID)
	})
}
