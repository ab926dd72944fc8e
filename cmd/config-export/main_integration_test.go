//go:build integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/opsgenie-config-backup/internal/testutil"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/config"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retrieval"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}
	return "redis://" + endpoint + "/0"
}

func TestExport_Integration_SharedThrottleState(t *testing.T) {
	redisURL := startRedis(t)

	mock := testutil.NewMockOpsgenie()
	defer mock.Close()
	seedAccount(mock)
	// One throttled contact fetch
	mock.SetFault("/v2/users/u-1", testutil.Fault{StatusCode: 429, Times: 1})

	out := t.TempDir()
	t.Setenv(config.EnvAPIKey, testutil.MockAPIKey)
	t.Setenv(config.EnvAPIURL, mock.URL())

	logs, err := executeCmd(t, "--output", out, "--redis-url", redisURL)
	require.NoError(t, err, logs)

	var users []retrieval.UserConfig
	readJSON(t, filepath.Join(out, UsersFile), &users)
	assert.Len(t, users, 2, "throttled call is retried")
	assert.Equal(t, 2, mock.RequestCount("/v2/users/u-1"))

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	throttles, err := client.Get(context.Background(), "backup:rate_limit:configuration:throttles").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, throttles)
}
