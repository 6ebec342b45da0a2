// Command mps-central is the MPS central node process: it loads a
// database configuration, wires the bypass manager, history emitter,
// firmware plane and evaluation engine together, and runs the
// long-running threads of spec §4.5/§4.6/§4.7 until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/mkevac/debugcharts"
	"github.com/pkg/errors"

	"github.com/pcds-mps/central-node/pkg/bypass"
	"github.com/pcds-mps/central-node/pkg/config"
	"github.com/pcds-mps/central-node/pkg/engine"
	"github.com/pcds-mps/central-node/pkg/firmware"
	"github.com/pcds-mps/central-node/pkg/firmware/simtransport"
	"github.com/pcds-mps/central-node/pkg/heartbeat"
	"github.com/pcds-mps/central-node/pkg/history"
	"github.com/pcds-mps/central-node/pkg/model"
)

// cycleFrequency is the engine's design rate (spec §4.4); the heartbeat
// thread beats at the same cadence by default.
const cycleFrequency = 360

func main() {
	configPath := flag.String("config", "", "path to the YAML database configuration")
	transportKind := flag.String("transport", "sim", "firmware transport: sim")
	historyCollector := flag.String("history-collector", "", "history UDP collector host:port (default lcls-dev3:3356)")
	debugAddr := flag.String("debug-addr", "", "address for the optional debug HTTP listener (empty disables)")
	watchdogTimeoutUs := flag.Uint("watchdog-timeout-us", 3500, "software watchdog timeout, microseconds")
	nonBlockingHeartbeat := flag.Bool("heartbeat-nonblocking", true, "use the non-blocking heartbeat policy")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *configPath == "" {
		logger.Error("missing required flag", "flag", "-config")
		os.Exit(1)
	}

	f, err := os.Open(*configPath)
	if err != nil {
		logger.Error("failed to open configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	db, err := config.Load(f, logger)
	f.Close()
	if err != nil {
		logger.Error("configuration load failed, cannot start", "error", errors.WithStack(err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", "cards", len(db.Cards), "destinations", len(db.Destinations))

	hist, err := history.New(*historyCollector, logger)
	if err != nil {
		logger.Error("failed to start history emitter", "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	bypassMgr := bypass.New(hist, logger)
	bypassMgr.CreateBypassMap(db)
	if err := bypassMgr.AssignBypass(db); err != nil {
		logger.Error("failed to assign bypass records", "error", err)
		os.Exit(1)
	}

	transport, err := buildTransport(*transportKind)
	if err != nil {
		logger.Error("unsupported transport", "transport", *transportKind, "error", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		Database:  db,
		Bypass:    bypassMgr,
		History:   hist,
		Transport: transport,
	}, logger)

	plane := firmware.New(transport, eng, firmwareUpdateBufSize(db), logger)

	hbTransport, ok := transport.(heartbeat.Transport)
	if !ok {
		logger.Error("transport does not expose the heartbeat register surface", "transport", *transportKind)
		os.Exit(1)
	}
	hb, err := heartbeat.New(heartbeat.Config{
		Transport:       hbTransport,
		Policy:          heartbeatPolicy(*nonBlockingHeartbeat),
		WatchdogTimeout: uint32(*watchdogTimeoutUs),
	}, logger)
	if err != nil {
		logger.Error("failed to start heartbeat", "error", err)
		os.Exit(1)
	}

	if err := plane.ReloadConfig(db); err != nil {
		logger.Error("initial firmware configuration load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugAddr != "" {
		go func() {
			logger.Info("debug listener started", "addr", *debugAddr)
			if err := http.ListenAndServe(*debugAddr, nil); err != nil {
				logger.Error("debug listener exited", "error", err)
			}
		}()
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(ctx, logger, name, fn)
		}()
	}

	start("fwUpdateReader", plane.RunUpdateReader)
	start("updateInputs", plane.RunUpdateInputs)
	start("mitigationWriter", plane.RunMitigationWriter)
	start("fwPCChangeReader", plane.RunPowerClassChangeReader)
	start("heartbeat", func(ctx context.Context) error {
		return hb.Run(ctx, time.Second/cycleFrequency)
	})
	start("configReloader", func(ctx context.Context) error {
		return runConfigReloader(ctx, eng, plane, logger)
	})

	<-ctx.Done()
	logger.Info("shutdown requested, waiting for goroutines")
	wg.Wait()

	report := hb.Report()
	logger.Info("heartbeat report",
		"beats", report.BeatCount, "wd_errors", report.WatchdogErrors,
		"req_timeouts", report.ReqTimeouts, "mean_period", report.MeanTxPeriod, "max_period", report.MaxTxPeriod)
	if maxObserved, err := hb.FirmwareMaxObservedPeriod(); err == nil {
		logger.Info("firmware max observed heartbeat period", "period", maxObserved)
	}
	logger.Info("update read timeouts", "count", plane.UpdateTimeoutCounter.Load())
}

func buildTransport(kind string) (firmware.Transport, error) {
	switch kind {
	case "sim", "":
		return simtransport.New(), nil
	default:
		return nil, fmt.Errorf("transport %q not implemented; only \"sim\" is available (a CPSW-backed transport is an external collaborator per spec §1)", kind)
	}
}

func heartbeatPolicy(nonBlocking bool) heartbeat.Policy {
	if nonBlocking {
		return heartbeat.NonBlocking
	}
	return heartbeat.Blocking
}

// runConfigReloader applies firmware configuration reloads requested by
// the engine (spec §4.4 step 8: bypass expiry or a card's active-flag
// flip both defer a reload to here rather than doing it on the hot
// path).
func runConfigReloader(ctx context.Context, eng *engine.Engine, plane *firmware.Plane, logger *slog.Logger) error {
	requests := eng.ReloadRequests()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-requests:
			if err := plane.ReloadConfig(eng.Database()); err != nil {
				logger.Error("firmware configuration reload failed", "error", err)
			}
		}
	}
}

// supervise runs fn, restarting it after logging a panic or error,
// until ctx is done (spec §7's per-goroutine recover-and-restart
// policy; only the initial configuration load is fatal to main).
func supervise(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) {
	for {
		err := runGuarded(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		logger.Error("goroutine exited, restarting", "goroutine", name, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// firmwareUpdateBufSize computes the byte size of the shared firmware
// update buffer: the fixed header plus every configured card's slice,
// addressed by card.Number (spec §6).
func firmwareUpdateBufSize(db *model.Database) int {
	maxCardNumber := -1
	for _, card := range db.CardsOrdered {
		if card.Number > maxCardNumber {
			maxCardNumber = card.Number
		}
	}
	return firmware.UpdateHeaderBytes + (maxCardNumber+1)*model.UpdateSliceBits/8
}
