package common

// Position sides
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Exit strategy names, selected via config
const (
	StrategyTrailingStep = "trailing_step"
	StrategyStagedTP     = "staged_tp"
)

// Environment variable keys
const (
	EnvBybitAPIKey      = "BYBIT_API_KEY"
	EnvBybitSecretKey   = "BYBIT_SECRET_KEY"
	EnvBaseURL          = "BASE_URL"
	EnvWsURL            = "WS_URL"
	EnvSymbols          = "SYMBOLS"
	EnvDataPath         = "DATA_PATH"
	EnvDryRun           = "DRY_RUN"
	EnvExitStrategy     = "EXIT_STRATEGY"
	EnvTrailingStep     = "TRAILING_STEP_PERCENT"
	EnvPollInterval     = "POLL_INTERVAL"
	EnvMaxOpenTrades    = "MAX_OPEN_TRADES"
	EnvMaxDailyLoss     = "MAX_DAILY_LOSS_PERCENT"
	EnvMinConfidence    = "MIN_CONFIDENCE"
	EnvMinRiskReward    = "MIN_RISK_REWARD"
	EnvMetricsPort      = "METRICS_PORT"
	EnvRESTTimeout      = "REST_TIMEOUT"
	EnvPingInterval     = "PING_INTERVAL"
	EnvLeverage         = "LEVERAGE"
	EnvAnalyzerURL      = "ANALYZER_URL"
	EnvAnalyzerAPIKey   = "ANALYZER_API_KEY"
	EnvAnalyzerSchedule = "ANALYZER_SCHEDULE"
	EnvSignalSchedule   = "SIGNAL_SCHEDULE"
)

// Configuration defaults
const (
	DefaultBaseURL          = "https://api.bybit.com"
	DefaultWsURL            = "wss://stream.bybit.com/v5/public/linear"
	DefaultMetricsPort      = 8080
	DefaultLeverage         = 20
	DefaultTrailingStep     = 20.0 // percent of gain per stop ratchet
	DefaultMaxOpenTrades    = 5
	DefaultMaxDailyLoss     = 10.0 // percent
	DefaultSingleTradeRisk  = 2.0  // percent of balance risked per trade
	DefaultMaxPositionFrac  = 0.05 // 5% of balance ceiling
	DefaultMinRiskReward    = 1.5
	DefaultMinConfidence    = 0.6
	DefaultTierFraction     = 0.2 // each staged tier releases 20% of original size
	DefaultAnalyzerSchedule = "0 * * * *"    // hourly
	DefaultSignalSchedule   = "*/15 * * * *" // every 15 minutes
)

// Validation constants
const (
	MinMetricsPort    = 1024
	MaxMetricsPort    = 65535
	MaxTrailingStep   = 100.0
	MaxDailyLossLimit = 50.0
	MaxOpenTradesCap  = 50
)

// SizeEpsilon bounds the floating-point drift tolerated when deciding
// whether a position's remaining size is exhausted.
const SizeEpsilon = 1e-9
