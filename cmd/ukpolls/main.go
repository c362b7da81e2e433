package main

import (
	"context"
	"log/slog"

	"ukpolls-backend/cmd/ukpolls/commands"
	"ukpolls-backend/lib/telemetry"
)

func main() {
	ctx := context.Background()

	tel, err := telemetry.SetupFromEnv(ctx, "ukpolls")
	if err != nil {
		// telemetry is optional for CLI usage
		slog.Debug("telemetry disabled", "err", err)
	} else {
		defer tel.Shutdown(ctx)
	}
	telemetry.InitSlog(false)

	commands.ExecuteContext(ctx)
}
