package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

func newFastExecutor() *retry.Executor {
	cfg := retry.Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	return retry.NewExecutor(retry.Options{
		Configs: map[retry.ErrorClass]retry.Config{
			retry.ErrorClassServer:    cfg,
			retry.ErrorClassRateLimit: cfg,
			retry.ErrorClassNetwork:   cfg,
			retry.ErrorClassUnknown:   cfg,
		},
		Logger: zerolog.Nop(),
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProgressInterval = 0
	return cfg
}

type fixedLimiter struct {
	limit int
	calls atomic.Int32
}

func (l *fixedLimiter) Limit(context.Context, ratelimit.Domain, int) int {
	l.calls.Add(1)
	return l.limit
}

var (
	errNotApplicable = &opsgenie.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "not advanced"}
	errServer        = &opsgenie.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	errForbidden     = &opsgenie.APIError{StatusCode: http.StatusForbidden, Message: "forbidden"}
)

// fakeIntegrations serves integrations from memory. Errors are keyed by id.
type fakeIntegrations struct {
	metas      []opsgenie.IntegrationMeta
	details    map[string]opsgenie.Integration
	actions    map[string]opsgenie.ActionCategorized
	listErr    error
	detailErr  map[string]error
	actionsErr map[string]error

	mu          sync.Mutex
	detailCalls map[string]int
}

func (f *fakeIntegrations) ListIntegrations(context.Context) ([]opsgenie.IntegrationMeta, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]opsgenie.IntegrationMeta(nil), f.metas...), nil
}

func (f *fakeIntegrations) GetIntegration(_ context.Context, id string) (*opsgenie.Integration, error) {
	f.mu.Lock()
	if f.detailCalls == nil {
		f.detailCalls = make(map[string]int)
	}
	f.detailCalls[id]++
	f.mu.Unlock()

	if err := f.detailErr[id]; err != nil {
		return nil, err
	}
	d := f.details[id]
	d.ReadOnly = append([]string(nil), d.ReadOnly...)
	return &d, nil
}

func (f *fakeIntegrations) ListIntegrationActions(_ context.Context, id string) (*opsgenie.ActionCategorized, error) {
	if err := f.actionsErr[id]; err != nil {
		return nil, err
	}
	a, ok := f.actions[id]
	if !ok {
		return nil, errNotApplicable
	}
	return &a, nil
}

func newFakeIntegrations(n int) *fakeIntegrations {
	f := &fakeIntegrations{
		details:    make(map[string]opsgenie.Integration),
		actions:    make(map[string]opsgenie.ActionCategorized),
		detailErr:  make(map[string]error),
		actionsErr: make(map[string]error),
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("int-%02d", i)
		name := fmt.Sprintf("Integration %02d", i)
		f.metas = append(f.metas, opsgenie.IntegrationMeta{ID: id, Name: name, Type: "API"})
		f.details[id] = opsgenie.Integration{Name: name, Type: "API"}
		f.actions[id] = opsgenie.ActionCategorized{
			Create: []opsgenie.IntegrationAction{{Type: "create", Name: "Create " + name}},
		}
	}
	return f
}

func newIntegrationRetriever(f *fakeIntegrations, limiter Limiter) *IntegrationRetriever {
	return NewIntegrationRetriever(f, f, newFastExecutor(), limiter, testConfig(), zerolog.Nop())
}

func TestIntegrationRetriever_AllRetrieved(t *testing.T) {
	f := newFakeIntegrations(12)
	limiter := &fixedLimiter{limit: 4}

	configs, err := newIntegrationRetriever(f, limiter).RetrieveEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 12)

	for i, c := range configs {
		assert.Equal(t, fmt.Sprintf("int-%02d", i), c.Integration.ID, "detail id is taken from the listing")
		require.NotNil(t, c.IntegrationActions)
		assert.Equal(t, 1, c.IntegrationActions.Count())
	}
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestIntegrationRetriever_FailuresExcluded(t *testing.T) {
	f := newFakeIntegrations(10)
	f.detailErr["int-02"] = errForbidden
	f.detailErr["int-07"] = errServer
	f.actionsErr["int-05"] = errServer

	configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 3}).RetrieveEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 7)

	seen := make(map[string]bool)
	for _, c := range configs {
		assert.False(t, seen[c.Integration.ID], "duplicate %s", c.Integration.ID)
		seen[c.Integration.ID] = true
	}
	for _, id := range []string{"int-02", "int-05", "int-07"} {
		assert.False(t, seen[id], "%s should be excluded", id)
	}

	// Client errors are not retried, server errors are
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.detailCalls["int-02"])
	assert.Equal(t, 3, f.detailCalls["int-07"])
}

func TestIntegrationRetriever_NotApplicableActions(t *testing.T) {
	f := newFakeIntegrations(3)
	delete(f.actions, "int-01")

	configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 2}).RetrieveEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 3)

	assert.Equal(t, "int-01", configs[1].Integration.ID)
	assert.Nil(t, configs[1].IntegrationActions)
	assert.NotNil(t, configs[0].IntegrationActions)
}

func TestIntegrationRetriever_SortsReadOnly(t *testing.T) {
	f := newFakeIntegrations(1)
	d := f.details["int-00"]
	d.ReadOnly = []string{"Zebra", "apple", "Banana"}
	f.details["int-00"] = d

	configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 1}).RetrieveEntities(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, []string{"apple", "Banana", "Zebra"}, configs[0].Integration.ReadOnly)
}

func TestIntegrationRetriever_OuterOrder(t *testing.T) {
	f := newFakeIntegrations(0)
	for _, m := range []opsgenie.IntegrationMeta{
		{ID: "3", Name: "zendesk"},
		{ID: "1", Name: "Datadog"},
		{ID: "2", Name: "api"},
		{ID: "0", Name: "Datadog"},
	} {
		f.metas = append(f.metas, m)
		f.details[m.ID] = opsgenie.Integration{Name: m.Name}
	}

	for run := 0; run < 5; run++ {
		configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 4}).RetrieveEntities(context.Background())
		require.NoError(t, err)

		var ids []string
		for _, c := range configs {
			ids = append(ids, c.Integration.ID)
		}
		assert.Equal(t, []string{"2", "0", "1", "3"}, ids)
	}
}

func TestIntegrationRetriever_ListingFailureIsFatal(t *testing.T) {
	f := newFakeIntegrations(3)
	f.listErr = errServer

	configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 1}).RetrieveEntities(context.Background())
	require.Error(t, err)
	assert.Nil(t, configs)
	assert.True(t, errors.Is(err, retry.ErrRetryExhausted))
	assert.ErrorIs(t, err, errServer)
}

func TestIntegrationRetriever_DuplicateMetas(t *testing.T) {
	f := newFakeIntegrations(2)
	f.metas = append(f.metas, f.metas[0])

	configs, err := newIntegrationRetriever(f, &fixedLimiter{limit: 2}).RetrieveEntities(context.Background())
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}

func TestSortReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"mixed case", []string{"Zebra", "apple", "Banana"}, []string{"apple", "Banana", "Zebra"}},
		{"case-only difference", []string{"name", "Name"}, []string{"Name", "name"}},
		{"case-only difference reversed", []string{"Name", "name"}, []string{"Name", "name"}},
		{"case-only ties among others", []string{"b", "a", "B"}, []string{"a", "B", "b"}},
		{"empty", []string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortReadOnly(tt.input)
			assert.Equal(t, tt.want, tt.input)
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "not_applicable", NotApplicable.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestEnrich(t *testing.T) {
	executor := newFastExecutor()
	ctx := context.Background()

	found := enrich(ctx, executor, ratelimit.DomainDefault, func(context.Context) (int, error) { return 7, nil })
	assert.Equal(t, Found, found.Outcome)
	assert.Equal(t, 7, found.Value)

	na := enrich(ctx, executor, ratelimit.DomainDefault, func(context.Context) (int, error) { return 0, errNotApplicable })
	assert.Equal(t, NotApplicable, na.Outcome)

	failed := enrich(ctx, executor, ratelimit.DomainDefault, func(context.Context) (int, error) { return 0, errServer })
	assert.Equal(t, Failed, failed.Outcome)
	assert.ErrorIs(t, failed.Err, retry.ErrRetryExhausted)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{ProgressInterval: -1}.withDefaults()
	assert.Equal(t, 1, cfg.Baseline)
	assert.Equal(t, ratelimit.DomainSearch, cfg.PoolDomain)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, time.Duration(0), cfg.ProgressInterval)
}
