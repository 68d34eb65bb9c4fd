package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/hive/internal/agents"
	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/events"
	"github.com/vadiminshakov/hive/internal/services/coordination"
	"github.com/vadiminshakov/hive/internal/services/execution"
	"github.com/vadiminshakov/hive/internal/services/wallet"
)

// Market data sources.
const (
	SourceSimulated   = "simulated"
	SourceBinance     = "binance"
	SourceBybit       = "bybit"
	SourceHyperliquid = "hyperliquid"
)

// Agent decision strategies.
const (
	StrategyRSI  = "rsi"
	StrategyHold = "hold"
)

type Config struct {
	LogLevel     string
	Master       Master
	Farms        []Farm
	Wallet       wallet.Config
	Coordination coordination.Config
	Execution    execution.Config
	MarketData   MarketData
	RSI          agents.RSIConfig
	Storage      Storage
	Events       Events
	Profiling    Profiling
}

type Master struct {
	Name       string
	Capital    decimal.Decimal
	Config     domain.MasterConfig
	Allocation wallet.Strategy
}

type Farm struct {
	Name    string
	Mode    domain.Mode
	Symbols []string
	Cadence time.Duration
	Config  domain.FarmConfig
	Limits  execution.Limits
	Agents  []Agent
}

type Agent struct {
	Name     string
	Strategy string
	Config   domain.AgentConfig
}

type MarketData struct {
	Source         string
	Interval       time.Duration
	Volatility     float64
	Seed           uint64
	CandleInterval string
	HyperliquidURL string

	// credentials come from the environment only
	APIKey                string
	APISecret             string
	HyperliquidPrivateKey string
}

type Storage struct {
	WALDir           string
	SQLDriver        string
	SQLDSN           string
	SnapshotPath     string
	SnapshotInterval time.Duration
}

type Events struct {
	Buffer           int
	Redis            *events.RedisConfig
	RedisSeverity    domain.Severity
	RabbitMQ         *events.RabbitMQConfig
	RabbitMQSeverity domain.Severity
	Telegram         *Telegram
}

type Telegram struct {
	Token       string
	ChatID      int64
	MinSeverity domain.Severity
}

type Profiling struct {
	ServerAddress string
}

// ConfigTmp is the yaml form of Config; decimals are kept as strings.
type ConfigTmp struct {
	LogLevel     string          `yaml:"log_level,omitempty"`
	Master       MasterTmp       `yaml:"master"`
	Farms        []FarmTmp       `yaml:"farms"`
	Wallet       WalletTmp       `yaml:"wallet,omitempty"`
	Coordination CoordinationTmp `yaml:"coordination,omitempty"`
	Execution    ExecutionTmp    `yaml:"execution,omitempty"`
	MarketData   MarketDataTmp   `yaml:"market_data,omitempty"`
	RSI          RSITmp          `yaml:"rsi,omitempty"`
	Storage      StorageTmp      `yaml:"storage,omitempty"`
	Events       EventsTmp       `yaml:"events,omitempty"`
	Profiling    ProfilingTmp    `yaml:"profiling,omitempty"`
}

type MasterTmp struct {
	Name                string `yaml:"name"`
	Capital             string `yaml:"capital"`
	EmergencyReservePct string `yaml:"emergency_reserve_pct,omitempty"`
	MaxFarms            int    `yaml:"max_farms,omitempty"`
	Allocation          string `yaml:"allocation,omitempty"`
}

type FarmTmp struct {
	Name            string        `yaml:"name"`
	Mode            string        `yaml:"mode,omitempty"`
	Symbols         []string      `yaml:"symbols,omitempty"`
	Cadence         time.Duration `yaml:"cadence,omitempty"`
	MaxAgents       int           `yaml:"max_agents,omitempty"`
	MinAgentCapital string        `yaml:"min_agent_capital,omitempty"`
	MaxAgentCapital string        `yaml:"max_agent_capital,omitempty"`
	MaxDailyLossPct string        `yaml:"max_daily_loss_pct,omitempty"`
	Limits          LimitsTmp     `yaml:"limits,omitempty"`
	Agents          []AgentTmp    `yaml:"agents"`
}

type LimitsTmp struct {
	MaxPositionSize string `yaml:"max_position_size,omitempty"`
	MaxDailyLoss    string `yaml:"max_daily_loss,omitempty"`
	MaxOpenOrders   int    `yaml:"max_open_orders,omitempty"`
	MaxFarmExposure string `yaml:"max_farm_exposure,omitempty"`
	StopLossPct     string `yaml:"stop_loss_pct,omitempty"`
	OrdersPerMinute int    `yaml:"orders_per_minute,omitempty"`
	AutoReduce      bool   `yaml:"auto_reduce,omitempty"`
}

type AgentTmp struct {
	Name                 string `yaml:"name"`
	Role                 string `yaml:"role,omitempty"`
	Strategy             string `yaml:"strategy,omitempty"`
	SpecializationWeight string `yaml:"specialization_weight,omitempty"`
	MaxPositionSize      string `yaml:"max_position_size,omitempty"`
	StopLossPct          string `yaml:"stop_loss_pct,omitempty"`
	TakeProfitPct        string `yaml:"take_profit_pct,omitempty"`
	DailyTradeLimit      int    `yaml:"daily_trade_limit,omitempty"`
}

type WalletTmp struct {
	RebalanceThreshold string        `yaml:"rebalance_threshold,omitempty"`
	RebalanceInterval  time.Duration `yaml:"rebalance_interval,omitempty"`
	ProfitThreshold    string        `yaml:"profit_threshold,omitempty"`
	ProfitInterval     time.Duration `yaml:"profit_interval,omitempty"`
	PerformanceTTL     time.Duration `yaml:"performance_ttl,omitempty"`
	MaxAllocationPct   string        `yaml:"max_allocation_pct,omitempty"`
	LedgerLimit        int           `yaml:"ledger_limit,omitempty"`
}

type CoordinationTmp struct {
	ConsensusThreshold string        `yaml:"consensus_threshold,omitempty"`
	MinParticipants    int           `yaml:"min_participants,omitempty"`
	MaxParticipants    int           `yaml:"max_participants,omitempty"`
	ProposalTimeout    time.Duration `yaml:"proposal_timeout,omitempty"`
	PhaseTimeout       time.Duration `yaml:"phase_timeout,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	SweepInterval      time.Duration `yaml:"sweep_interval,omitempty"`
	DefaultQuantity    string        `yaml:"default_quantity,omitempty"`
}

type ExecutionTmp struct {
	Slippage     string        `yaml:"slippage,omitempty"`
	FeeRate      string        `yaml:"fee_rate,omitempty"`
	RiskInterval time.Duration `yaml:"risk_interval,omitempty"`
	QueueSize    int           `yaml:"queue_size,omitempty"`
	HistoryLimit int           `yaml:"history_limit,omitempty"`
	Limits       LimitsTmp     `yaml:"limits,omitempty"`
}

type MarketDataTmp struct {
	Source         string        `yaml:"source,omitempty"`
	Interval       time.Duration `yaml:"interval,omitempty"`
	Volatility     string        `yaml:"volatility,omitempty"`
	Seed           uint64        `yaml:"seed,omitempty"`
	CandleInterval string        `yaml:"candle_interval,omitempty"`
	HyperliquidURL string        `yaml:"hyperliquid_url,omitempty"`
}

type RSITmp struct {
	Period     int    `yaml:"period,omitempty"`
	Oversold   string `yaml:"oversold,omitempty"`
	Overbought string `yaml:"overbought,omitempty"`
	Notional   string `yaml:"notional,omitempty"`
}

type StorageTmp struct {
	WALDir           string        `yaml:"wal_dir,omitempty"`
	SQLDriver        string        `yaml:"sql_driver,omitempty"`
	SQLDSN           string        `yaml:"sql_dsn,omitempty"`
	SnapshotPath     string        `yaml:"snapshot_path,omitempty"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval,omitempty"`
}

type EventsTmp struct {
	Buffer   int         `yaml:"buffer,omitempty"`
	Redis    RedisTmp    `yaml:"redis,omitempty"`
	RabbitMQ RabbitMQTmp `yaml:"rabbitmq,omitempty"`
	Telegram TelegramTmp `yaml:"telegram,omitempty"`
}

type RedisTmp struct {
	Address     string `yaml:"address,omitempty"`
	DB          int    `yaml:"db,omitempty"`
	Channel     string `yaml:"channel,omitempty"`
	List        string `yaml:"list,omitempty"`
	ListCap     int64  `yaml:"list_cap,omitempty"`
	MinSeverity string `yaml:"min_severity,omitempty"`
}

type RabbitMQTmp struct {
	Queue       string `yaml:"queue,omitempty"`
	Durable     *bool  `yaml:"durable,omitempty"`
	MinSeverity string `yaml:"min_severity,omitempty"`
}

type TelegramTmp struct {
	ChatID      string `yaml:"chat_id,omitempty"`
	MinSeverity string `yaml:"min_severity,omitempty"`
}

type ProfilingTmp struct {
	ServerAddress string `yaml:"server_address,omitempty"`
}

// Load reads the yaml config at path. An empty path yields the built-in
// single-farm simulated setup. Secrets are taken from the environment.
func Load(path string) (Config, error) {
	if path == "" {
		return Parse(DefaultTmp())
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}
	return Parse(tmp)
}

// DefaultTmp is the configuration used without a config file.
func DefaultTmp() ConfigTmp {
	return ConfigTmp{
		LogLevel: "info",
		Master:   MasterTmp{Name: "hive", Capital: "100000", Allocation: string(wallet.StrategyRoleWeighted)},
		Farms: []FarmTmp{
			{
				Name:    "alpha",
				Mode:    string(domain.ModeConsensus),
				Symbols: []string{"BTC/USD", "ETH/USD"},
				Agents: []AgentTmp{
					{Name: "alpha-leader", Role: string(domain.RoleLeader)},
					{Name: "alpha-specialist", Role: string(domain.RoleSpecialist)},
					{Name: "alpha-worker", Role: string(domain.RoleWorker)},
				},
			},
		},
		MarketData: MarketDataTmp{Source: SourceSimulated},
	}
}

// Parse validates tmp, applies defaults and reads secrets from the environment.
func Parse(tmp ConfigTmp) (Config, error) {
	var err error
	cfg := Config{
		LogLevel:     tmp.LogLevel,
		Wallet:       wallet.DefaultConfig(),
		Coordination: coordination.DefaultConfig(),
		Execution:    execution.DefaultConfig(),
		RSI:          agents.DefaultRSIConfig(),
	}
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("incorrect 'log_level' param in yaml config: %s (correct values are debug, info, warn, error)", tmp.LogLevel)
	}

	if cfg.Master, err = parseMaster(tmp.Master); err != nil {
		return Config{}, err
	}
	if err = parseWallet(tmp.Wallet, &cfg.Wallet); err != nil {
		return Config{}, err
	}
	if err = parseCoordination(tmp.Coordination, &cfg.Coordination); err != nil {
		return Config{}, err
	}
	if err = parseExecution(tmp.Execution, &cfg.Execution); err != nil {
		return Config{}, err
	}

	if len(tmp.Farms) == 0 {
		return Config{}, fmt.Errorf("incorrect 'farms' param in yaml config: at least one farm is required")
	}
	if len(tmp.Farms) > cfg.Master.Config.MaxFarms {
		return Config{}, fmt.Errorf("incorrect 'farms' param in yaml config: %d farms exceed max_farms %d", len(tmp.Farms), cfg.Master.Config.MaxFarms)
	}
	names := make(map[string]bool)
	for _, ft := range tmp.Farms {
		farm, err := parseFarm(ft, cfg.Execution.Limits)
		if err != nil {
			return Config{}, err
		}
		if names[farm.Name] {
			return Config{}, fmt.Errorf("incorrect 'farms.name' param in yaml config: duplicate name %s", farm.Name)
		}
		names[farm.Name] = true
		for _, a := range farm.Agents {
			if names[a.Name] {
				return Config{}, fmt.Errorf("incorrect 'agents.name' param in yaml config: duplicate name %s", a.Name)
			}
			names[a.Name] = true
		}
		cfg.Farms = append(cfg.Farms, farm)
	}

	if cfg.MarketData, err = parseMarketData(tmp.MarketData); err != nil {
		return Config{}, err
	}
	if err = parseRSI(tmp.RSI, &cfg.RSI); err != nil {
		return Config{}, err
	}
	if cfg.Storage, err = parseStorage(tmp.Storage); err != nil {
		return Config{}, err
	}
	if cfg.Events, err = parseEvents(tmp.Events); err != nil {
		return Config{}, err
	}
	cfg.Profiling = Profiling{ServerAddress: tmp.Profiling.ServerAddress}
	return cfg, nil
}

// Symbols returns the distinct symbols traded by all farms.
func (c Config) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range c.Farms {
		for _, s := range f.Symbols {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func parseMaster(t MasterTmp) (Master, error) {
	m := Master{Name: t.Name, Config: domain.DefaultMasterConfig(), Allocation: wallet.StrategyRoleWeighted}
	if m.Name == "" {
		m.Name = "hive"
	}
	capital, err := decimal.NewFromString(t.Capital)
	if err != nil {
		return Master{}, fmt.Errorf("incorrect 'master.capital' param in yaml config (correct format is 100000), error: %w", err)
	}
	if !capital.IsPositive() {
		return Master{}, fmt.Errorf("incorrect 'master.capital' param in yaml config: %s must be positive", t.Capital)
	}
	m.Capital = capital

	if m.Config.EmergencyReservePct, err = decimalOr("master.emergency_reserve_pct", t.EmergencyReservePct, m.Config.EmergencyReservePct); err != nil {
		return Master{}, err
	}
	if m.Config.EmergencyReservePct.IsNegative() || m.Config.EmergencyReservePct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return Master{}, fmt.Errorf("incorrect 'master.emergency_reserve_pct' param in yaml config: %s must be within [0, 100)", t.EmergencyReservePct)
	}
	if t.MaxFarms > 0 {
		m.Config.MaxFarms = t.MaxFarms
	}
	if t.Allocation != "" {
		m.Allocation = wallet.Strategy(t.Allocation)
		if !m.Allocation.IsValid() {
			return Master{}, fmt.Errorf("incorrect 'master.allocation' param in yaml config: %s (correct values are equal, performance_weighted, role_weighted)", t.Allocation)
		}
	}
	return m, nil
}

func parseWallet(t WalletTmp, c *wallet.Config) error {
	var err error
	if c.RebalanceThreshold, err = decimalOr("wallet.rebalance_threshold", t.RebalanceThreshold, c.RebalanceThreshold); err != nil {
		return err
	}
	if c.ProfitThreshold, err = decimalOr("wallet.profit_threshold", t.ProfitThreshold, c.ProfitThreshold); err != nil {
		return err
	}
	if c.MaxAllocationPct, err = decimalOr("wallet.max_allocation_pct", t.MaxAllocationPct, c.MaxAllocationPct); err != nil {
		return err
	}
	c.RebalanceInterval = durationOr(t.RebalanceInterval, c.RebalanceInterval)
	c.ProfitInterval = durationOr(t.ProfitInterval, c.ProfitInterval)
	c.PerformanceTTL = durationOr(t.PerformanceTTL, c.PerformanceTTL)
	if t.LedgerLimit > 0 {
		c.LedgerLimit = t.LedgerLimit
	}
	return nil
}

func parseCoordination(t CoordinationTmp, c *coordination.Config) error {
	var err error
	if c.ConsensusThreshold, err = decimalOr("coordination.consensus_threshold", t.ConsensusThreshold, c.ConsensusThreshold); err != nil {
		return err
	}
	if c.ConsensusThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("incorrect 'coordination.consensus_threshold' param in yaml config (correct format is 0.6), got %s", t.ConsensusThreshold)
	}
	if c.DefaultQuantity, err = decimalOr("coordination.default_quantity", t.DefaultQuantity, c.DefaultQuantity); err != nil {
		return err
	}
	if t.MinParticipants > 0 {
		c.MinParticipants = t.MinParticipants
	}
	if t.MaxParticipants > 0 {
		c.MaxParticipants = t.MaxParticipants
	}
	if c.MinParticipants > c.MaxParticipants {
		return fmt.Errorf("incorrect 'coordination.min_participants' param in yaml config: %d is above max_participants %d", c.MinParticipants, c.MaxParticipants)
	}
	c.ProposalTimeout = durationOr(t.ProposalTimeout, c.ProposalTimeout)
	c.PhaseTimeout = durationOr(t.PhaseTimeout, c.PhaseTimeout)
	c.Timeout = durationOr(t.Timeout, c.Timeout)
	c.SweepInterval = durationOr(t.SweepInterval, c.SweepInterval)
	return nil
}

func parseExecution(t ExecutionTmp, c *execution.Config) error {
	var err error
	if c.Slippage, err = decimalOr("execution.slippage", t.Slippage, c.Slippage); err != nil {
		return err
	}
	if c.FeeRate, err = decimalOr("execution.fee_rate", t.FeeRate, c.FeeRate); err != nil {
		return err
	}
	c.RiskInterval = durationOr(t.RiskInterval, c.RiskInterval)
	if t.QueueSize > 0 {
		c.QueueSize = t.QueueSize
	}
	if t.HistoryLimit > 0 {
		c.HistoryLimit = t.HistoryLimit
	}
	c.Limits, err = parseLimits("execution.limits", t.Limits, c.Limits)
	return err
}

func parseLimits(prefix string, t LimitsTmp, base execution.Limits) (execution.Limits, error) {
	var err error
	l := base
	if l.MaxPositionSize, err = decimalOr(prefix+".max_position_size", t.MaxPositionSize, l.MaxPositionSize); err != nil {
		return l, err
	}
	if l.MaxDailyLoss, err = decimalOr(prefix+".max_daily_loss", t.MaxDailyLoss, l.MaxDailyLoss); err != nil {
		return l, err
	}
	if l.MaxFarmExposure, err = decimalOr(prefix+".max_farm_exposure", t.MaxFarmExposure, l.MaxFarmExposure); err != nil {
		return l, err
	}
	if l.StopLossPct, err = decimalOr(prefix+".stop_loss_pct", t.StopLossPct, l.StopLossPct); err != nil {
		return l, err
	}
	if t.MaxOpenOrders > 0 {
		l.MaxOpenOrders = t.MaxOpenOrders
	}
	if t.OrdersPerMinute > 0 {
		l.OrdersPerMinute = t.OrdersPerMinute
	}
	l.AutoReduce = l.AutoReduce || t.AutoReduce
	return l, nil
}

func parseFarm(t FarmTmp, limits execution.Limits) (Farm, error) {
	if t.Name == "" {
		return Farm{}, fmt.Errorf("incorrect 'farms.name' param in yaml config: name cannot be empty")
	}
	farm := Farm{
		Name:    t.Name,
		Mode:    domain.ModeConsensus,
		Cadence: durationOr(t.Cadence, 5*time.Minute),
		Config:  domain.DefaultFarmConfig(),
	}
	if t.Mode != "" {
		mode, ok := domain.ParseMode(t.Mode)
		if !ok {
			return Farm{}, fmt.Errorf("incorrect 'farms.mode' param in yaml config: %s (farm %s)", t.Mode, t.Name)
		}
		farm.Mode = mode
	}

	for _, s := range t.Symbols {
		pair, err := domain.ParsePair(s)
		if err != nil {
			return Farm{}, fmt.Errorf("incorrect 'farms.symbols' param in yaml config: %s (farm %s), error: %w", s, t.Name, err)
		}
		// bare tickers such as AAPL stay unquoted
		symbol := pair.From
		if strings.ContainsAny(s, "/-_") {
			symbol = pair.String()
		}
		farm.Symbols = append(farm.Symbols, symbol)
	}
	if len(farm.Symbols) == 0 {
		farm.Symbols = []string{"BTC/USD", "ETH/USD"}
	}

	var err error
	prefix := "farms." + t.Name
	if t.MaxAgents > 0 {
		farm.Config.MaxAgents = t.MaxAgents
	}
	if farm.Config.MinAgentCapital, err = decimalOr(prefix+".min_agent_capital", t.MinAgentCapital, farm.Config.MinAgentCapital); err != nil {
		return Farm{}, err
	}
	if farm.Config.MaxAgentCapital, err = decimalOr(prefix+".max_agent_capital", t.MaxAgentCapital, farm.Config.MaxAgentCapital); err != nil {
		return Farm{}, err
	}
	if farm.Config.MaxDailyLossPct, err = decimalOr(prefix+".max_daily_loss_pct", t.MaxDailyLossPct, farm.Config.MaxDailyLossPct); err != nil {
		return Farm{}, err
	}
	if farm.Limits, err = parseLimits(prefix+".limits", t.Limits, limits); err != nil {
		return Farm{}, err
	}

	if len(t.Agents) == 0 {
		return Farm{}, fmt.Errorf("incorrect 'farms.agents' param in yaml config: farm %s has no agents", t.Name)
	}
	if len(t.Agents) > farm.Config.MaxAgents {
		return Farm{}, fmt.Errorf("incorrect 'farms.agents' param in yaml config: farm %s has %d agents, max_agents is %d", t.Name, len(t.Agents), farm.Config.MaxAgents)
	}
	for _, at := range t.Agents {
		agent, err := parseAgent(at, t.Name)
		if err != nil {
			return Farm{}, err
		}
		farm.Agents = append(farm.Agents, agent)
	}
	return farm, nil
}

func parseAgent(t AgentTmp, farm string) (Agent, error) {
	if t.Name == "" {
		return Agent{}, fmt.Errorf("incorrect 'agents.name' param in yaml config: name cannot be empty (farm %s)", farm)
	}
	a := Agent{Name: t.Name, Strategy: StrategyRSI, Config: domain.DefaultAgentConfig()}
	if t.Role != "" {
		a.Config.Role = domain.Role(t.Role)
		if !a.Config.Role.IsValid() {
			return Agent{}, fmt.Errorf("incorrect 'agents.role' param in yaml config: %s (agent %s)", t.Role, t.Name)
		}
	}
	switch t.Strategy {
	case "":
	case StrategyRSI, StrategyHold:
		a.Strategy = t.Strategy
	default:
		return Agent{}, fmt.Errorf("incorrect 'agents.strategy' param in yaml config: %s (correct values are rsi, hold)", t.Strategy)
	}

	var err error
	prefix := "agents." + t.Name
	if a.Config.SpecializationWeight, err = decimalOr(prefix+".specialization_weight", t.SpecializationWeight, a.Config.SpecializationWeight); err != nil {
		return Agent{}, err
	}
	if a.Config.MaxPositionSize, err = decimalOr(prefix+".max_position_size", t.MaxPositionSize, a.Config.MaxPositionSize); err != nil {
		return Agent{}, err
	}
	if a.Config.StopLossPct, err = decimalOr(prefix+".stop_loss_pct", t.StopLossPct, a.Config.StopLossPct); err != nil {
		return Agent{}, err
	}
	if a.Config.TakeProfitPct, err = decimalOr(prefix+".take_profit_pct", t.TakeProfitPct, a.Config.TakeProfitPct); err != nil {
		return Agent{}, err
	}
	if t.DailyTradeLimit > 0 {
		a.Config.DailyTradeLimit = t.DailyTradeLimit
	}
	return a, nil
}

func parseMarketData(t MarketDataTmp) (MarketData, error) {
	md := MarketData{
		Source:         t.Source,
		Interval:       durationOr(t.Interval, time.Second),
		Volatility:     0.002,
		Seed:           t.Seed,
		CandleInterval: t.CandleInterval,
		HyperliquidURL: t.HyperliquidURL,
	}
	switch md.Source {
	case "":
		md.Source = SourceSimulated
	case SourceSimulated, SourceHyperliquid:
	case SourceBinance:
		md.APIKey, md.APISecret = os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET")
	case SourceBybit:
		md.APIKey, md.APISecret = os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET")
	default:
		return MarketData{}, fmt.Errorf("incorrect 'market_data.source' param in yaml config: %s (correct values are simulated, binance, bybit, hyperliquid)", t.Source)
	}
	md.HyperliquidPrivateKey = os.Getenv("HYPERLIQUID_PRIVATE_KEY")
	if md.CandleInterval == "" {
		md.CandleInterval = "1m"
	}
	if t.Volatility != "" {
		v, err := strconv.ParseFloat(t.Volatility, 64)
		if err != nil || v <= 0 {
			return MarketData{}, fmt.Errorf("incorrect 'market_data.volatility' param in yaml config (correct format is 0.002), error: %w", errOr(err, "must be positive"))
		}
		md.Volatility = v
	}
	return md, nil
}

func parseRSI(t RSITmp, c *agents.RSIConfig) error {
	var err error
	if t.Period > 1 {
		c.Period = t.Period
	}
	if c.Oversold, err = decimalOr("rsi.oversold", t.Oversold, c.Oversold); err != nil {
		return err
	}
	if c.Overbought, err = decimalOr("rsi.overbought", t.Overbought, c.Overbought); err != nil {
		return err
	}
	if c.Notional, err = decimalOr("rsi.notional", t.Notional, c.Notional); err != nil {
		return err
	}
	if !c.Oversold.LessThan(c.Overbought) {
		return fmt.Errorf("incorrect 'rsi.oversold' param in yaml config: %s must be below overbought %s", c.Oversold, c.Overbought)
	}
	return nil
}

func parseStorage(t StorageTmp) (Storage, error) {
	s := Storage{
		WALDir:           t.WALDir,
		SQLDriver:        t.SQLDriver,
		SQLDSN:           t.SQLDSN,
		SnapshotPath:     t.SnapshotPath,
		SnapshotInterval: durationOr(t.SnapshotInterval, time.Hour),
	}
	switch s.SQLDriver {
	case "", "sqlite", "postgres":
	default:
		return Storage{}, fmt.Errorf("incorrect 'storage.sql_driver' param in yaml config: %s (correct values are sqlite, postgres)", t.SQLDriver)
	}
	if dsn := os.Getenv("HIVE_SQL_DSN"); dsn != "" {
		s.SQLDSN = dsn
	}
	return s, nil
}

func parseEvents(t EventsTmp) (Events, error) {
	var err error
	ev := Events{Buffer: t.Buffer}
	if ev.Buffer <= 0 {
		ev.Buffer = 256
	}

	if t.Redis.Address != "" {
		ev.Redis = &events.RedisConfig{
			Address:  t.Redis.Address,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       t.Redis.DB,
			Channel:  t.Redis.Channel,
			List:     t.Redis.List,
			ListCap:  t.Redis.ListCap,
		}
		if ev.Redis.Channel == "" {
			ev.Redis.Channel = "hive.notifications"
		}
		if ev.RedisSeverity, err = severityOr("events.redis.min_severity", t.Redis.MinSeverity, domain.SeverityInfo); err != nil {
			return Events{}, err
		}
	}

	if url := os.Getenv("AMQP_URL"); url != "" {
		ev.RabbitMQ = &events.RabbitMQConfig{URL: url, Queue: t.RabbitMQ.Queue, Durable: true}
		if ev.RabbitMQ.Queue == "" {
			ev.RabbitMQ.Queue = "hive.notifications"
		}
		if t.RabbitMQ.Durable != nil {
			ev.RabbitMQ.Durable = *t.RabbitMQ.Durable
		}
		if ev.RabbitMQSeverity, err = severityOr("events.rabbitmq.min_severity", t.RabbitMQ.MinSeverity, domain.SeverityInfo); err != nil {
			return Events{}, err
		}
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && t.Telegram.ChatID != "" {
		chatID, err := strconv.ParseInt(t.Telegram.ChatID, 10, 64)
		if err != nil {
			return Events{}, fmt.Errorf("incorrect 'events.telegram.chat_id' param in yaml config (must be an integer), error: %w", err)
		}
		ev.Telegram = &Telegram{Token: token, ChatID: chatID}
		if ev.Telegram.MinSeverity, err = severityOr("events.telegram.min_severity", t.Telegram.MinSeverity, domain.SeverityWarning); err != nil {
			return Events{}, err
		}
	}
	return ev, nil
}

func decimalOr(name, value string, def decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", name, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config: %s cannot be negative", name, value)
	}
	return d, nil
}

func durationOr(value, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return value
}

func severityOr(name, value string, def domain.Severity) (domain.Severity, error) {
	switch domain.Severity(value) {
	case "":
		return def, nil
	case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityCritical:
		return domain.Severity(value), nil
	}
	return "", fmt.Errorf("incorrect '%s' param in yaml config: %s (correct values are info, warning, critical)", name, value)
}

func errOr(err error, msg string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s", msg)
}
