package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/config"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/logging"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retrieval"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

// Output file names.
const (
	IntegrationsFile = "integrations.json"
	UsersFile        = "users.json"
	ManifestFile     = "manifest.json"
)

// Manifest describes one export run.
type Manifest struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Integrations int       `json:"integrations"`
	Users        int       `json:"users"`
}

type exporter struct {
	runID        string
	outputDir    string
	integrations retrieval.EntityRetriever[retrieval.IntegrationConfig]
	users        retrieval.EntityRetriever[retrieval.UserConfig]
}

func newExporter(cfg *config.Config, store ratelimit.StateStore, runID string) (*exporter, error) {
	client, err := opsgenie.New(cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create opsgenie client: %w", err)
	}

	budget := ratelimit.NewBudget(cfg.BudgetConfig(store), logging.NewLogger("budget"))
	executor := retry.NewExecutor(retry.Options{
		Configs: cfg.Retry,
		Pacer:   budget,
		Logger:  logging.NewLogger("retry"),
	})

	return &exporter{
		runID:        runID,
		outputDir:    cfg.Output.Dir,
		integrations: retrieval.NewIntegrationRetriever(client, client, executor, budget, cfg.Retrieval, logging.NewLogger("export")),
		users:        retrieval.NewUserRetriever(client, client, executor, budget, cfg.Retrieval, logging.NewLogger("export")),
	}, nil
}

// Run retrieves both entity kinds one after the other and writes them. Files
// are only written once both retrievals succeeded.
func (e *exporter) Run(ctx context.Context) (*Manifest, error) {
	manifest := &Manifest{RunID: e.runID, StartedAt: time.Now().UTC()}

	integrations, err := e.integrations.RetrieveEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve integrations: %w", err)
	}
	users, err := e.users.RetrieveEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve users: %w", err)
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSON(filepath.Join(e.outputDir, IntegrationsFile), integrations); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(e.outputDir, UsersFile), users); err != nil {
		return nil, err
	}

	manifest.Integrations = len(integrations)
	manifest.Users = len(users)
	manifest.FinishedAt = time.Now().UTC()
	if err := writeJSON(filepath.Join(e.outputDir, ManifestFile), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// writeJSON atomically replaces path with v encoded as indented JSON.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
