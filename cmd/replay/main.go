package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"perp-trader/internal/common"
	"perp-trader/internal/exitpolicy"
	"perp-trader/internal/position"
	"perp-trader/internal/replay"
)

func main() {
	var (
		dataPath  = flag.String("data", "", "Path to CSV price file (timestamp,price)")
		symbol    = flag.String("symbol", "BTCUSDT", "Symbol label for the replayed position")
		side      = flag.String("side", "LONG", "Position side: LONG or SHORT")
		entry     = flag.Float64("entry", 0, "Entry price")
		size      = flag.Float64("size", 1, "Position size (base units)")
		strategy  = flag.String("strategy", common.StrategyTrailingStep, "Exit strategy: trailing_step or staged_tp")
		step      = flag.Float64("step", common.DefaultTrailingStep, "Trailing step percent")
		fractions = flag.String("fractions", "", "Comma-separated staged tier fractions (default 0.2 x5)")
		targets   = flag.String("targets", "", "Comma-separated staged tier prices (default entry offsets)")
		logLevel  = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *dataPath == "" || *entry <= 0 {
		fmt.Fprintln(os.Stderr, "usage: replay -data prices.csv -entry 42000 [-side LONG] [-strategy trailing_step]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	policy, err := buildPolicy(*strategy, *step, *fractions)
	if err != nil {
		log.Fatal().Err(err).Msg("policy setup failed")
	}

	path, err := replay.LoadCSV(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load price path")
	}

	pos := position.Position{
		Symbol:       *symbol,
		Side:         strings.ToUpper(*side),
		EntryPrice:   *entry,
		OriginalSize: *size,
		TakeProfits:  parseFloats(*targets),
	}

	fmt.Println("=== Replay Configuration ===")
	fmt.Printf("Data:     %s (%d points)\n", *dataPath, len(path))
	fmt.Printf("Position: %s %s %.6f @ %.4f\n", pos.Symbol, pos.Side, pos.OriginalSize, pos.EntryPrice)
	fmt.Printf("Policy:   %s\n", policy.Name())
	fmt.Println("============================")

	res, err := replay.NewEngine(policy).Run(pos, path)
	if err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}
	replay.WriteReport(os.Stdout, res)
}

func buildPolicy(strategy string, step float64, fractions string) (exitpolicy.Policy, error) {
	switch strategy {
	case common.StrategyTrailingStep:
		return exitpolicy.NewTrailingStep(step)
	case common.StrategyStagedTP:
		fr := parseFloats(fractions)
		if len(fr) == 0 {
			fr = []float64{0.2, 0.2, 0.2, 0.2, 0.2}
		}
		return exitpolicy.NewStagedTP(fr)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

func parseFloats(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			log.Fatal().Str("value", p).Msg("invalid number in list flag")
		}
		out = append(out, v)
	}
	return out
}
