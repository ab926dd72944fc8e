package opsgenie

// IntegrationMeta is the listing-level view of an integration.
type IntegrationMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	TeamID  string `json:"teamId,omitempty"`
}

// Integration is a fully populated integration. Fields outside the common
// model are kept in Extra so a backup can restore the integration.
type Integration struct {
	ID                          string            `json:"id"`
	Name                        string            `json:"name"`
	Type                        string            `json:"type"`
	Enabled                     bool              `json:"enabled"`
	OwnerTeam                   *TeamRef          `json:"ownerTeam,omitempty"`
	AllowWriteAccess            bool              `json:"allowWriteAccess"`
	SuppressNotifications       bool              `json:"suppressNotifications"`
	IgnoreRespondersFromPayload bool              `json:"ignoreRespondersFromPayload"`
	IgnoreTeamsFromPayload      bool              `json:"ignoreTeamsFromPayload"`
	Responders                  []Responder       `json:"responders,omitempty"`
	EmailUsername               string            `json:"emailUsername,omitempty"`
	ReadOnly                    []string          `json:"_readOnly,omitempty"`
	Properties                  map[string]string `json:"properties,omitempty"`

	// Extra keeps type-specific fields, see Extra.
	Extra Extra `json:"-"`
}

// TeamRef references a team by id or name.
type TeamRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Responder is a team, user, escalation or schedule notified by an integration.
type Responder struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// ActionCategorized groups the actions of an advanced integration by kind.
type ActionCategorized struct {
	Create      []IntegrationAction `json:"create,omitempty"`
	Close       []IntegrationAction `json:"close,omitempty"`
	Acknowledge []IntegrationAction `json:"acknowledge,omitempty"`
	AddNote     []IntegrationAction `json:"addNote,omitempty"`
	Ignore      []IntegrationAction `json:"ignore,omitempty"`
}

// Count returns the number of actions across all kinds.
func (a *ActionCategorized) Count() int {
	if a == nil {
		return 0
	}
	return len(a.Create) + len(a.Close) + len(a.Acknowledge) + len(a.AddNote) + len(a.Ignore)
}

// IntegrationAction is one rule of an advanced integration.
type IntegrationAction struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Order       int           `json:"order"`
	User        string        `json:"user,omitempty"`
	Note        string        `json:"note,omitempty"`
	Alias       string        `json:"alias,omitempty"`
	Message     string        `json:"message,omitempty"`
	Description string        `json:"description,omitempty"`
	Source      string        `json:"source,omitempty"`
	Entity      string        `json:"entity,omitempty"`
	Priority    string        `json:"priority,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Filter      *ActionFilter `json:"filter,omitempty"`
}

// ActionFilter selects the alerts an action applies to.
type ActionFilter struct {
	ConditionMatchType string      `json:"conditionMatchType"`
	Conditions         []Condition `json:"conditions,omitempty"`
}

// Condition is one filter clause.
type Condition struct {
	Field         string `json:"field"`
	Key           string `json:"key,omitempty"`
	Not           bool   `json:"not"`
	Operation     string `json:"operation"`
	ExpectedValue string `json:"expectedValue"`
	Order         int    `json:"order,omitempty"`
}

// User is an account member. Contacts are only present when the user was
// fetched with the "contact" expansion.
type User struct {
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	FullName      string              `json:"fullName"`
	Role          *UserRole           `json:"role,omitempty"`
	SkypeUsername string              `json:"skypeUsername,omitempty"`
	TimeZone      string              `json:"timeZone,omitempty"`
	Locale        string              `json:"locale,omitempty"`
	Blocked       bool                `json:"blocked"`
	Verified      bool                `json:"verified"`
	Tags          []string            `json:"tags,omitempty"`
	Details       map[string][]string `json:"details,omitempty"`
	UserAddress   *UserAddress        `json:"userAddress,omitempty"`
	UserContacts  []UserContact       `json:"userContacts,omitempty"`

	Extra Extra `json:"-"`
}

// UserRole is the role assigned to a user.
type UserRole struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// UserAddress is the postal address of a user.
type UserAddress struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
	Line    string `json:"line,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

// UserContact is one contact method of a user.
type UserContact struct {
	ID            string `json:"id,omitempty"`
	To            string `json:"to"`
	ContactMethod string `json:"contactMethod"`
	Enabled       bool   `json:"enabled"`
}

// ListUsersRequest selects a page of users.
type ListUsersRequest struct {
	Offset int
	Limit  int
	Query  string
}

// ListUsersResponse is one page of users.
type ListUsersResponse struct {
	Users      []User
	TotalCount int
}

// GetUserRequest identifies a user by id or username.
type GetUserRequest struct {
	Identifier string
	Expand     []string
}

// NotificationRuleMeta is the listing-level view of a notification rule.
type NotificationRuleMeta struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ActionType string `json:"actionType"`
	Order      int    `json:"order"`
	Enabled    bool   `json:"enabled"`
}

// NotificationRule is a fully populated notification rule.
type NotificationRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ActionType       string                 `json:"actionType"`
	NotificationTime []string               `json:"notificationTime,omitempty"`
	Order            int                    `json:"order"`
	Enabled          bool                   `json:"enabled"`
	Criteria         *ActionFilter          `json:"criteria,omitempty"`
	TimeRestriction  *TimeRestriction       `json:"timeRestriction,omitempty"`
	Schedules        []ScheduleRef          `json:"schedules,omitempty"`
	Steps            []NotificationRuleStep `json:"steps,omitempty"`
	Repeat           *Repeat                `json:"repeat,omitempty"`
}

// TimeRestriction limits when a rule applies.
type TimeRestriction struct {
	Type         string            `json:"type"`
	Restrictions []TimeRestriction `json:"restrictions,omitempty"`
	StartDay     string            `json:"startDay,omitempty"`
	EndDay       string            `json:"endDay,omitempty"`
	StartHour    *int              `json:"startHour,omitempty"`
	StartMinute  *int              `json:"startMin,omitempty"`
	EndHour      *int              `json:"endHour,omitempty"`
	EndMinute    *int              `json:"endMin,omitempty"`
}

// ScheduleRef references an on-call schedule.
type ScheduleRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// NotificationRuleStep is one contact step of a rule.
type NotificationRuleStep struct {
	ID        string          `json:"id,omitempty"`
	Contact   ContactRef      `json:"contact"`
	SendAfter *SendAfterDelay `json:"sendAfter,omitempty"`
	Enabled   bool            `json:"enabled"`
}

// ContactRef addresses a contact method.
type ContactRef struct {
	Method string `json:"method"`
	To     string `json:"to"`
}

// SendAfterDelay delays a step.
type SendAfterDelay struct {
	TimeAmount int    `json:"timeAmount"`
	TimeUnit   string `json:"timeUnit,omitempty"`
}

// Repeat configures rule repetition.
type Repeat struct {
	LoopAfter int  `json:"loopAfter"`
	Enabled   bool `json:"enabled"`
}
