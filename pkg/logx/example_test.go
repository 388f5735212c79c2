package logx_test

import (
	"fmt"
	"log/slog"

	"hooklog/internal/format"
	kit "hooklog/internal/transport"
	logx "hooklog/pkg/logx"
)

type printQueue struct{}

func (printQueue) TryEnqueue(r kit.Record) bool {
	fmt.Println(r.Text)
	return true
}

func ExampleNewSlogHandler() {
	h := logx.NewSlogHandler(printQueue{}, format.Builder{MessageLimit: 2000}, slog.LevelWarn)
	log := slog.New(h).With("svc", "billing")

	log.Info("cache warmed")
	log.Warn("slow upstream", "took", "1.2s")
	// Output:
	// :warning: **[Warning]**   slow upstream
	// - svc=billing
	// - took=1.2s
}
