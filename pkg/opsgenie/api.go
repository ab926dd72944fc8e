// Package opsgenie models the parts of the Opsgenie REST API read by the
// configuration export and provides an HTTP client for them.
package opsgenie

import "context"

// ExpandContact asks GetUser to include the user's contact methods.
const ExpandContact = "contact"

// IntegrationAPI reads integrations.
type IntegrationAPI interface {
	ListIntegrations(ctx context.Context) ([]IntegrationMeta, error)
	GetIntegration(ctx context.Context, id string) (*Integration, error)
}

// IntegrationActionAPI reads the actions of advanced integrations. Basic
// integrations answer with an error whose NotApplicable method reports true.
type IntegrationActionAPI interface {
	ListIntegrationActions(ctx context.Context, integrationID string) (*ActionCategorized, error)
}

// UserAPI reads users.
type UserAPI interface {
	ListUsers(ctx context.Context, req ListUsersRequest) (*ListUsersResponse, error)
	GetUser(ctx context.Context, req GetUserRequest) (*User, error)
}

// NotificationRuleAPI reads per-user notification rules.
type NotificationRuleAPI interface {
	ListNotificationRules(ctx context.Context, userID string) ([]NotificationRuleMeta, error)
	GetNotificationRule(ctx context.Context, userID, ruleID string) (*NotificationRule, error)
}
