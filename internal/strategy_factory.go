package internal

import (
	"fmt"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/agents"
)

// strategySet holds one shared instance per agent strategy.
type strategySet struct {
	rsi  *agents.RSI
	hold *agents.Static
}

func newStrategySet(rsi agents.RSIConfig, history agents.History) strategySet {
	return strategySet{
		rsi:  agents.NewRSI(rsi, history),
		hold: agents.NewStatic(nil),
	}
}

// createAgentStrategy returns the decision provider of an agent's configured strategy.
func (s strategySet) createAgentStrategy(name string) (agents.Provider, error) {
	switch name {
	case config.StrategyRSI:
		return s.rsi, nil
	case config.StrategyHold:
		return s.hold, nil
	default:
		return nil, fmt.Errorf("unsupported agent strategy: %s", name)
	}
}
