package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"perp-trader/internal/common"
)

// Settings is the validated runtime configuration.
type Settings struct {
	Key, Secret string
	BaseURL     string
	WsURL       string
	Symbols     []string
	DataPath    string
	DryRun      bool
	Leverage    int

	// Exit engine
	ExitStrategy        string // common.StrategyTrailingStep or common.StrategyStagedTP
	TrailingStepPercent float64
	TierFractions       []float64
	PollInterval        time.Duration
	PriceMaxAge         time.Duration

	// Entry gate
	MaxOpenTrades          int
	MaxDailyLossPercent    float64
	MinConfidence          float64
	MinRiskReward          float64
	SingleTradeRiskPercent float64
	MaxPositionFraction    float64

	// Signal sourcing
	AnalyzerURL      string
	AnalyzerAPIKey   string
	AnalyzerSchedule string // cron expression
	SignalSchedule   string // cron expression

	// System
	MetricsPort int
	RESTTimeout time.Duration
	Ping        time.Duration
}

// ConfigFile is the YAML layout. Environment variables override fields
// after the file is read.
type ConfigFile struct {
	API struct {
		Key     string `yaml:"key"`
		Secret  string `yaml:"secret"`
		BaseURL string `yaml:"baseURL"`
		WsURL   string `yaml:"wsURL"`
	} `yaml:"api"`

	Trading struct {
		Symbols  []string `yaml:"symbols"`
		Leverage int      `yaml:"leverage"`
		DryRun   bool     `yaml:"dryRun"`
	} `yaml:"trading"`

	Exit struct {
		Strategy            string    `yaml:"strategy"`
		TrailingStepPercent float64   `yaml:"trailingStepPercent"`
		TierFractions       []float64 `yaml:"tierFractions"`
		PollInterval        string    `yaml:"pollInterval"`
		PriceMaxAge         string    `yaml:"priceMaxAge"`
	} `yaml:"exit"`

	Risk struct {
		MaxOpenTrades          int     `yaml:"maxOpenTrades"`
		MaxDailyLossPercent    float64 `yaml:"maxDailyLossPercent"`
		MinConfidence          float64 `yaml:"minConfidence"`
		MinRiskReward          float64 `yaml:"minRiskReward"`
		SingleTradeRiskPercent float64 `yaml:"singleTradeRiskPercent"`
		MaxPositionFraction    float64 `yaml:"maxPositionFraction"`
	} `yaml:"risk"`

	Analyzer struct {
		URL            string `yaml:"url"`
		APIKey         string `yaml:"apiKey"`
		Schedule       string `yaml:"schedule"`
		SignalSchedule string `yaml:"signalSchedule"`
	} `yaml:"analyzer"`

	System struct {
		DataPath     string `yaml:"dataPath"`
		MetricsPort  int    `yaml:"metricsPort"`
		RESTTimeout  string `yaml:"restTimeout"`
		PingInterval string `yaml:"pingInterval"`
	} `yaml:"system"`
}

// Load reads configuration from the YAML file named by CONFIG_FILE, or
// from environment variables when no file is configured.
func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		Key:                 getEnvOrDefault(common.EnvBybitAPIKey, config.API.Key),
		Secret:              getEnvOrDefault(common.EnvBybitSecretKey, config.API.Secret),
		BaseURL:             getEnvOrDefault(common.EnvBaseURL, defaultString(config.API.BaseURL, common.DefaultBaseURL)),
		WsURL:               getEnvOrDefault(common.EnvWsURL, defaultString(config.API.WsURL, common.DefaultWsURL)),
		Symbols:             getSymbolsFromEnvOrConfig(config.Trading.Symbols),
		DataPath:            getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		DryRun:              getBoolFromEnvOrConfig(common.EnvDryRun, config.Trading.DryRun),
		Leverage:            getIntFromEnvOrConfig(common.EnvLeverage, defaultInt(config.Trading.Leverage, common.DefaultLeverage)),
		ExitStrategy:        getEnvOrDefault(common.EnvExitStrategy, defaultString(config.Exit.Strategy, common.StrategyTrailingStep)),
		TrailingStepPercent: getFloatFromEnvOrConfig(common.EnvTrailingStep, defaultFloat(config.Exit.TrailingStepPercent, common.DefaultTrailingStep)),
		TierFractions:       defaultFractions(config.Exit.TierFractions),
		PollInterval:        parseDurationOrDefault(getEnvOrDefault(common.EnvPollInterval, config.Exit.PollInterval), 10*time.Second),
		PriceMaxAge:         parseDurationOrDefault(config.Exit.PriceMaxAge, 5*time.Second),

		MaxOpenTrades:          getIntFromEnvOrConfig(common.EnvMaxOpenTrades, defaultInt(config.Risk.MaxOpenTrades, common.DefaultMaxOpenTrades)),
		MaxDailyLossPercent:    getFloatFromEnvOrConfig(common.EnvMaxDailyLoss, defaultFloat(config.Risk.MaxDailyLossPercent, common.DefaultMaxDailyLoss)),
		MinConfidence:          getFloatFromEnvOrConfig(common.EnvMinConfidence, defaultFloat(config.Risk.MinConfidence, common.DefaultMinConfidence)),
		MinRiskReward:          getFloatFromEnvOrConfig(common.EnvMinRiskReward, defaultFloat(config.Risk.MinRiskReward, common.DefaultMinRiskReward)),
		SingleTradeRiskPercent: defaultFloat(config.Risk.SingleTradeRiskPercent, common.DefaultSingleTradeRisk),
		MaxPositionFraction:    defaultFloat(config.Risk.MaxPositionFraction, common.DefaultMaxPositionFrac),

		AnalyzerURL:      getEnvOrDefault(common.EnvAnalyzerURL, config.Analyzer.URL),
		AnalyzerAPIKey:   getEnvOrDefault(common.EnvAnalyzerAPIKey, config.Analyzer.APIKey),
		AnalyzerSchedule: getEnvOrDefault(common.EnvAnalyzerSchedule, defaultString(config.Analyzer.Schedule, common.DefaultAnalyzerSchedule)),
		SignalSchedule:   getEnvOrDefault(common.EnvSignalSchedule, defaultString(config.Analyzer.SignalSchedule, common.DefaultSignalSchedule)),

		MetricsPort: getIntFromEnvOrConfig(common.EnvMetricsPort, defaultInt(config.System.MetricsPort, common.DefaultMetricsPort)),
		RESTTimeout: parseDurationOrDefault(getEnvOrDefault(common.EnvRESTTimeout, config.System.RESTTimeout), 5*time.Second),
		Ping:        parseDurationOrDefault(getEnvOrDefault(common.EnvPingInterval, config.System.PingInterval), 20*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	key, err := getEnvRequired(common.EnvBybitAPIKey)
	if err != nil {
		return Settings{}, err
	}
	secret, err := getEnvRequired(common.EnvBybitSecretKey)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Key:                 key,
		Secret:              secret,
		BaseURL:             getEnvOrDefault(common.EnvBaseURL, common.DefaultBaseURL),
		WsURL:               getEnvOrDefault(common.EnvWsURL, common.DefaultWsURL),
		Symbols:             splitOrDefault(os.Getenv(common.EnvSymbols), []string{"BTCUSDT"}),
		DataPath:            os.Getenv(common.EnvDataPath), // optional
		DryRun:              getBoolOrDefault(common.EnvDryRun, false),
		Leverage:            getIntOrDefault(common.EnvLeverage, common.DefaultLeverage),
		ExitStrategy:        getEnvOrDefault(common.EnvExitStrategy, common.StrategyTrailingStep),
		TrailingStepPercent: getFloatOrDefault(common.EnvTrailingStep, common.DefaultTrailingStep),
		TierFractions:       defaultFractions(nil),
		PollInterval:        getDurationOrDefault(common.EnvPollInterval, 10*time.Second),
		PriceMaxAge:         5 * time.Second,

		MaxOpenTrades:          getIntOrDefault(common.EnvMaxOpenTrades, common.DefaultMaxOpenTrades),
		MaxDailyLossPercent:    getFloatOrDefault(common.EnvMaxDailyLoss, common.DefaultMaxDailyLoss),
		MinConfidence:          getFloatOrDefault(common.EnvMinConfidence, common.DefaultMinConfidence),
		MinRiskReward:          getFloatOrDefault(common.EnvMinRiskReward, common.DefaultMinRiskReward),
		SingleTradeRiskPercent: common.DefaultSingleTradeRisk,
		MaxPositionFraction:    common.DefaultMaxPositionFrac,

		AnalyzerURL:      os.Getenv(common.EnvAnalyzerURL),
		AnalyzerAPIKey:   os.Getenv(common.EnvAnalyzerAPIKey),
		AnalyzerSchedule: getEnvOrDefault(common.EnvAnalyzerSchedule, common.DefaultAnalyzerSchedule),
		SignalSchedule:   getEnvOrDefault(common.EnvSignalSchedule, common.DefaultSignalSchedule),

		MetricsPort: getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		RESTTimeout: getDurationOrDefault(common.EnvRESTTimeout, 5*time.Second),
		Ping:        getDurationOrDefault(common.EnvPingInterval, 20*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func defaultFractions(fractions []float64) []float64 {
	if len(fractions) > 0 {
		return fractions
	}
	out := make([]float64, 5)
	for i := range out {
		out[i] = common.DefaultTierFraction
	}
	return out
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseDurationOrDefault(v string, defaultValue time.Duration) time.Duration {
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

func getSymbolsFromEnvOrConfig(configSymbols []string) []string {
	if env := os.Getenv(common.EnvSymbols); env != "" {
		return strings.Split(env, ",")
	}
	if len(configSymbols) > 0 {
		return configSymbols
	}
	return []string{"BTCUSDT"}
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

func defaultString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func defaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func defaultFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}
