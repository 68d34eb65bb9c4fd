package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/services/wallet"
)

const DefaultPath = "hive.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the values collected by the wizard.
type Answers struct {
	MasterName   string
	Capital      string
	Allocation   string
	Source       string
	FarmName     string
	Mode         string
	Symbols      string
	Cadence      string
	Agents       string
	Strategy     string
	SnapshotPath string
}

func defaultAnswers() Answers {
	return Answers{
		MasterName:   "hive",
		Capital:      "100000",
		Allocation:   string(wallet.StrategyRoleWeighted),
		Source:       config.SourceSimulated,
		FarmName:     "alpha",
		Mode:         string(domain.ModeConsensus),
		Symbols:      "BTC/USD, ETH/USD",
		Cadence:      "5m",
		Agents:       "3",
		Strategy:     config.StrategyRSI,
		SnapshotPath: "hive-wallets.json",
	}
}

// ConfigTmp turns the answers into a one-farm yaml config. The first agent leads,
// the second specializes and the rest are workers.
func (a Answers) ConfigTmp() (config.ConfigTmp, error) {
	n, err := strconv.Atoi(strings.TrimSpace(a.Agents))
	if err != nil || n < 1 {
		return config.ConfigTmp{}, fmt.Errorf("agents must be a positive number, got %q", a.Agents)
	}
	cadence, err := time.ParseDuration(a.Cadence)
	if err != nil {
		return config.ConfigTmp{}, fmt.Errorf("invalid cadence: %w", err)
	}

	farm := config.FarmTmp{
		Name:    a.FarmName,
		Mode:    a.Mode,
		Symbols: splitSymbols(a.Symbols),
		Cadence: cadence,
	}
	if n > domain.DefaultFarmConfig().MaxAgents {
		farm.MaxAgents = n
	}
	for i := range n {
		role := domain.RoleWorker
		switch i {
		case 0:
			role = domain.RoleLeader
		case 1:
			role = domain.RoleSpecialist
		}
		farm.Agents = append(farm.Agents, config.AgentTmp{
			Name:     fmt.Sprintf("%s-%s-%d", a.FarmName, role, i+1),
			Role:     string(role),
			Strategy: a.Strategy,
		})
	}

	return config.ConfigTmp{
		LogLevel:   "info",
		Master:     config.MasterTmp{Name: a.MasterName, Capital: a.Capital, Allocation: a.Allocation},
		Farms:      []config.FarmTmp{farm},
		MarketData: config.MarketDataTmp{Source: a.Source},
		Storage:    config.StorageTmp{SnapshotPath: a.SnapshotPath},
	}, nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Write validates tmp and saves it as yaml at path.
func Write(path string, tmp config.ConfigTmp) error {
	if _, err := config.Parse(tmp); err != nil {
		return err
	}
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("HIVE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to
// path. It returns the path written.
func RunTUI(path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	a := defaultAnswers()
	var confirm bool

	screen("STEP 1: MASTER WALLET")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("One master wallet funds every farm.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Master wallet name").
				Value(&a.MasterName).
				Validate(notEmpty("name")),
			huh.NewInput().
				Title("Initial capital").
				Description("Quote currency units (e.g. 100000)").
				Value(&a.Capital).
				Validate(validateCapital),
			huh.NewSelect[string]().
				Title("Allocation strategy").
				Options(
					huh.NewOption("Role weighted", string(wallet.StrategyRoleWeighted)),
					huh.NewOption("Performance weighted", string(wallet.StrategyPerformanceWeighted)),
					huh.NewOption("Equal", string(wallet.StrategyEqual)),
				).
				Value(&a.Allocation),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 2: MARKET DATA")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price source").
				Options(
					huh.NewOption("Simulation", config.SourceSimulated),
					huh.NewOption("Binance", config.SourceBinance),
					huh.NewOption("Bybit", config.SourceBybit),
					huh.NewOption("Hyperliquid", config.SourceHyperliquid),
				).
				Value(&a.Source),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 3: FARM")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Farm name").
				Value(&a.FarmName).
				Validate(notEmpty("farm name")),
			huh.NewSelect[string]().
				Title("Coordination mode").
				Options(
					huh.NewOption("Consensus", string(domain.ModeConsensus)),
					huh.NewOption("Collaborative", string(domain.ModeCollaborative)),
					huh.NewOption("Hierarchical", string(domain.ModeHierarchical)),
					huh.NewOption("Distributed", string(domain.ModeDistributed)),
					huh.NewOption("Autonomous", string(domain.ModeAutonomous)),
				).
				Value(&a.Mode),
			huh.NewInput().
				Title("Symbols").
				Description("Comma separated (e.g. BTC/USD, ETH/USD)").
				Value(&a.Symbols).
				Validate(func(s string) error {
					if len(splitSymbols(s)) == 0 {
						return fmt.Errorf("at least one symbol is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Cycle cadence").
				Description("Duration string (e.g. 30s, 1m, 5m)").
				Value(&a.Cadence).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 4: AGENTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Number of agents").
				Value(&a.Agents).
				Validate(func(s string) error {
					if n, err := strconv.Atoi(s); err != nil || n < 1 {
						return fmt.Errorf("must be a positive number")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Agent strategy").
				Options(
					huh.NewOption("RSI reversal", config.StrategyRSI),
					huh.NewOption("Always hold", config.StrategyHold),
				).
				Value(&a.Strategy),
			huh.NewInput().
				Title("Wallet snapshot file").
				Description("Empty disables persistence").
				Value(&a.SnapshotPath),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Master: %s (%s, %s)\nSource: %s\nFarm: %s (%s)\nSymbols: %s\nAgents: %s x %s\n",
		a.MasterName, a.Capital, a.Allocation, a.Source, a.FarmName, a.Mode, a.Symbols, a.Agents, a.Strategy,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	tmp, err := a.ConfigTmp()
	if err != nil {
		return "", err
	}
	if err := Write(path, tmp); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting hive...", path)))
	time.Sleep(1500 * time.Millisecond)
	return path, nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateCapital(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}
