// Package testutil provides testing utilities for the configuration export.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
)

// MockAPIKey is the only API key accepted by MockOpsgenie.
const MockAPIKey = "test-genie-key"

// Fault makes a path answer with StatusCode for the next Times requests.
// Times < 0 fails forever.
type Fault struct {
	StatusCode int
	Message    string
	Times      int
}

// MockOpsgenie is an in-memory Opsgenie v2 API served over httptest.
type MockOpsgenie struct {
	server *httptest.Server

	mu           sync.Mutex
	integrations []opsgenie.Integration
	actions      map[string]opsgenie.ActionCategorized
	users        []opsgenie.User
	rules        map[string][]opsgenie.NotificationRule
	faults       map[string]*Fault
	requests     map[string]int
}

// NewMockOpsgenie starts an empty mock API.
func NewMockOpsgenie() *MockOpsgenie {
	m := &MockOpsgenie{
		actions:  make(map[string]opsgenie.ActionCategorized),
		rules:    make(map[string][]opsgenie.NotificationRule),
		faults:   make(map[string]*Fault),
		requests: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/integrations", m.listIntegrations)
	mux.HandleFunc("GET /v2/integrations/{id}", m.getIntegration)
	mux.HandleFunc("GET /v2/integrations/{id}/actions", m.listActions)
	mux.HandleFunc("GET /v2/users", m.listUsers)
	mux.HandleFunc("GET /v2/users/{id}", m.getUser)
	mux.HandleFunc("GET /v2/users/{id}/notification-rules", m.listRules)
	mux.HandleFunc("GET /v2/users/{id}/notification-rules/{ruleID}", m.getRule)

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[r.URL.Path]++
		fault := m.faults[r.URL.Path]
		if fault != nil && fault.Times != 0 {
			if fault.Times > 0 {
				fault.Times--
			}
		} else {
			fault = nil
		}
		m.mu.Unlock()

		if r.Header.Get("Authorization") != "GenieKey "+MockAPIKey {
			writeError(w, http.StatusUnauthorized, "Could not authenticate")
			return
		}
		if fault != nil {
			writeError(w, fault.StatusCode, fault.Message)
			return
		}
		mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockOpsgenie) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOpsgenie) Close() {
	m.server.Close()
}

// AddIntegration registers an integration. actions may be nil for a basic
// integration, whose actions endpoint then answers 422.
func (m *MockOpsgenie) AddIntegration(integration opsgenie.Integration, actions *opsgenie.ActionCategorized) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations = append(m.integrations, integration)
	if actions != nil {
		m.actions[integration.ID] = *actions
	}
}

// AddUser registers a user with its notification rules.
func (m *MockOpsgenie) AddUser(user opsgenie.User, rules ...opsgenie.NotificationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, user)
	m.rules[user.ID] = rules
}

// SetFault injects a failure for an exact request path.
func (m *MockOpsgenie) SetFault(path string, fault Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := fault
	m.faults[path] = &f
}

// RequestCount returns the number of requests made to path.
func (m *MockOpsgenie) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

func writeData(w http.ResponseWriter, data any, totalCount int) {
	body := map[string]any{
		"data":      data,
		"took":      0.01,
		"requestId": "mock-request",
	}
	if totalCount >= 0 {
		body["totalCount"] = totalCount
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"message":   message,
		"took":      0.01,
		"requestId": "mock-request",
	})
}

func (m *MockOpsgenie) listIntegrations(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metas := make([]opsgenie.IntegrationMeta, 0, len(m.integrations))
	for _, in := range m.integrations {
		metas = append(metas, opsgenie.IntegrationMeta{ID: in.ID, Name: in.Name, Type: in.Type, Enabled: in.Enabled})
	}
	writeData(w, metas, -1)
}

func (m *MockOpsgenie) getIntegration(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := r.PathValue("id")
	for _, in := range m.integrations {
		if in.ID == id {
			// The detail endpoint does not echo the id
			in.ID = ""
			writeData(w, in, -1)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Integration with id ["+id+"] not found")
}

func (m *MockOpsgenie) listActions(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := r.PathValue("id")
	actions, ok := m.actions[id]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Integration type is not supported for actions")
		return
	}
	writeData(w, actions, -1)
}

func (m *MockOpsgenie) listUsers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	start := min(offset, len(m.users))
	end := min(start+limit, len(m.users))

	page := make([]opsgenie.User, 0, end-start)
	for _, u := range m.users[start:end] {
		// Listings never include contacts
		u.UserContacts = nil
		page = append(page, u)
	}
	writeData(w, page, len(m.users))
}

func (m *MockOpsgenie) findUser(identifier string) (opsgenie.User, bool) {
	for _, u := range m.users {
		if u.ID == identifier || u.Username == identifier {
			return u, true
		}
	}
	return opsgenie.User{}, false
}

func (m *MockOpsgenie) getUser(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.findUser(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !strings.Contains(r.URL.Query().Get("expand"), opsgenie.ExpandContact) {
		u.UserContacts = nil
	}
	writeData(w, u, -1)
}

func (m *MockOpsgenie) listRules(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules, ok := m.rules[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	metas := make([]opsgenie.NotificationRuleMeta, 0, len(rules))
	for _, rule := range rules {
		metas = append(metas, opsgenie.NotificationRuleMeta{
			ID:         rule.ID,
			Name:       rule.Name,
			ActionType: rule.ActionType,
			Order:      rule.Order,
			Enabled:    rule.Enabled,
		})
	}
	writeData(w, metas, -1)
}

func (m *MockOpsgenie) getRule(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ruleID := r.PathValue("ruleID")
	for _, rule := range m.rules[r.PathValue("id")] {
		if rule.ID == ruleID {
			writeData(w, rule, -1)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Notification rule not found")
}
