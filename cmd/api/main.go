package main

import (
	"log/slog"
	"os"

	"github.com/metinatakli/cinema-booking/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}
