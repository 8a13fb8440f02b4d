package main

import (
	"log/slog"
	"os"

	"github.com/metinatakli/cinema-booking/internal/app"
)

func main() {
	if err := app.RunNotifier(); err != nil {
		slog.Error("notifier exited", "error", err)
		os.Exit(1)
	}
}
