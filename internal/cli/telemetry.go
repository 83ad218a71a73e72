package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/coachpo/shmpub/internal/config"
	"github.com/coachpo/shmpub/internal/telemetry"
)

// InitTelemetry starts the metric provider described by cfg.
func InitTelemetry(ctx context.Context, logger *log.Logger, cfg config.Config) (*telemetry.Provider, error) {
	telemetryCfg := cfg.TelemetryOptions()
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}
