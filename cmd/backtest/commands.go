package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"backtest-systemv1/internal/scan"
	"backtest-systemv1/internal/service"
)

var (
	importTicker string
	runReq       service.RunRequest
	scanReq      scan.ScanRequest
	runsKind     string
	runsLimit    int
	frameSpecs   string

	importCmd = &cobra.Command{
		Use:   "import [csv...]",
		Short: "Load daily OHLCV CSV files into SQLite",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Backtest the configured strategy once",
		RunE:  runBacktest,
	}
	optimizeCmd = &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search the SMA windows over the configured period",
		RunE:  runOptimize,
	}
	walkForwardCmd = &cobra.Command{
		Use:   "walkforward",
		Short: "Run a walk-forward analysis",
		RunE:  runWalkForward,
	}
	scanCmd = &cobra.Command{
		Use:   "scan [ticker...]",
		Short: "Report the latest crossover state of each ticker",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScan,
	}
	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List journaled runs, newest first",
		RunE:  runList,
	}
	indicatorsCmd = &cobra.Command{
		Use:   "indicators",
		Short: "Compute indicator columns over the configured period",
		RunE:  runIndicators,
	}
)

func init() {
	importCmd.Flags().StringVar(&importTicker, "ticker", "", "ticker for a single file (default: file name)")

	for _, cmd := range []*cobra.Command{runCmd, optimizeCmd, walkForwardCmd, indicatorsCmd} {
		f := cmd.Flags()
		f.StringVar(&runReq.Ticker, "ticker", "", "override the configured ticker")
		f.StringVar(&runReq.StartDate, "start", "", "override start_date (YYYY-MM-DD)")
		f.StringVar(&runReq.EndDate, "end", "", "override end_date (YYYY-MM-DD)")
		if cmd == indicatorsCmd {
			continue
		}
		f.IntVar(&runReq.ShortMA, "short", 0, "override the short SMA window")
		f.IntVar(&runReq.LongMA, "long", 0, "override the long SMA window")
		f.IntVar(&runReq.RSIPeriod, "rsi", 0, "override the RSI period")
	}
	indicatorsCmd.Flags().StringVar(&frameSpecs, "specs", "SMA:20,RSI:14", "indicator specs, e.g. SMA:20,EMA:9,BB:20,MACD")
	runCmd.Flags().BoolVar(&runReq.IncludeEquity, "equity", false, "include the equity curve in the report")

	scanCmd.Flags().IntVar(&scanReq.ShortMA, "short", 0, "short SMA window (default: initial_ma_short)")
	scanCmd.Flags().IntVar(&scanReq.LongMA, "long", 0, "long SMA window (default: initial_ma_long)")
	scanCmd.Flags().IntVar(&scanReq.RSIPeriod, "rsi", 0, "RSI period reported alongside (default: rsi_period)")

	runsCmd.Flags().StringVar(&runsKind, "kind", "", "filter by kind: backtest, optimize or walkforward")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}

// withService opens the stores, builds a service and cancels ctx on
// SIGINT/SIGTERM.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := service.New(cfg, a.deps())
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func runImport(cmd *cobra.Command, args []string) error {
	if importTicker != "" && len(args) > 1 {
		return fmt.Errorf("--ticker applies to a single file, got %d", len(args))
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	for _, path := range args {
		n, err := service.Import(ctx, a.writer, path, importTicker)
		if err != nil {
			return err
		}
		total += n
	}
	log.Info().Int("files", len(args)).Int("bars", total).Msg("import complete")
	return nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		out, err := svc.Backtest(ctx, runReq)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	})
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		out, err := svc.Optimize(ctx, runReq)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	})
}

func runWalkForward(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		out, err := svc.WalkForward(ctx, runReq)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	req := scanReq
	for _, t := range args {
		req.Tickers = append(req.Tickers, strings.Split(t, ",")...)
	}
	if req.ShortMA == 0 {
		req.ShortMA = cfg.InitialMAShort
	}
	if req.LongMA == 0 {
		req.LongMA = cfg.InitialMALong
	}
	if req.RSIPeriod == 0 {
		req.RSIPeriod = cfg.RSIPeriod
	}
	req.RegimeWindow = cfg.RegimeWindow
	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		results, cached, err := svc.Scan(ctx, req)
		if err != nil {
			return err
		}
		log.Debug().Bool("cached", cached).Int("tickers", len(results)).Msg("scan complete")
		return printJSON(cmd, results)
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(_ context.Context, svc *service.Service) error {
		runs, err := svc.Runs(runsKind, runsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, runs)
	})
}

func runIndicators(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(_ context.Context, svc *service.Service) error {
		frame, err := svc.Indicators(runReq, frameSpecs)
		if err != nil {
			return err
		}
		return printJSON(cmd, frame)
	})
}
