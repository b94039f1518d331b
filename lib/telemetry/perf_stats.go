package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var perfMeter = Meter("godric.perf_stats")
var cpuGauge, _ = perfMeter.Float64Gauge("cpu_usage")
var rssGauge, _ = perfMeter.Int64Gauge("rss_mb")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")

// InstrumentPerfStats samples this process' cpu, resident memory and
// goroutine count every interval until ctx is done.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("failed to inspect own process, perf stats disabled", "err", err)
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cpuUsage, err := self.CPUPercentWithContext(ctx)
				if err == nil {
					cpuGauge.Record(ctx, cpuUsage)
				} else {
					slog.Debug("failed to read cpu usage", "err", err)
				}
				mem, err := self.MemoryInfoWithContext(ctx)
				if err == nil {
					rssGauge.Record(ctx, int64(mem.RSS/1_000_000))
				}
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
