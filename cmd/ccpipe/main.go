package main

import (
	"context"

	"github.com/NHIT-open/Citizen-Connect-ACS/cmd/ccpipe/commands"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/serviceutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "ccpipe")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
