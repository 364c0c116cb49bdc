package main

import (
	"context"
	"errors"
	"os"

	"sproutsclip/cmd/sproutsclip/commands"
	"sproutsclip/lib/serviceutil"
	"sproutsclip/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "sproutsclip")
	if err == nil {
		defer tel.Shutdown(context.Background())
	} else if !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}

	commands.ExecuteContext(ctx)
}
