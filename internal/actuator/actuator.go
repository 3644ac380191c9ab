package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// Applier delivers a ControlCommand to the damper hardware or its
// simulation. An error means the collaborator reported an actuation fault;
// the engine logs it and surfaces it to the operator but never retries
// automatically.
type Applier interface {
	Apply(ctx context.Context, cmd *types.ControlCommand) error
}

// New builds the Applier selected by the actuator configuration.
func New(cfg config.ActuatorConfig) Applier {
	if cfg.Mode == "http" {
		return &httpApplier{
			url:    cfg.URL,
			client: &http.Client{Timeout: cfg.Timeout},
		}
	}
	return logApplier{}
}

// logApplier records commands without driving hardware — the simulation
// collaborator.
type logApplier struct{}

func (logApplier) Apply(_ context.Context, cmd *types.ControlCommand) error {
	slog.Info("actuator: applying damper command",
		"asset", cmd.AssetID,
		"reason", cmd.Reason,
		"forces", cmd.Forces,
	)
	return nil
}

// httpApplier POSTs commands to the damper controller endpoint as JSON.
type httpApplier struct {
	url    string
	client *http.Client
}

func (a *httpApplier) Apply(ctx context.Context, cmd *types.ControlCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("actuator: marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("actuator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("actuator: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("actuator: controller returned HTTP %d", resp.StatusCode)
	}
	return nil
}
