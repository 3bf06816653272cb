package runtime

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	statex "github.com/tanpawarit/Chative-Shopping-Assistant/agent/state"
)

const DefaultMinFallbackResults = 3

// Config bounds the agent loop. Loaded with prefix AGENT.
type Config struct {
	MaxTurns           int `split_words:"true" default:"10"`
	WebFallbackMinTurn int `split_words:"true" default:"5"`
	MinFallbackResults int `split_words:"true" default:"3"`
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = statex.DefaultMaxTurns
	}
	if c.WebFallbackMinTurn < 0 {
		c.WebFallbackMinTurn = statex.DefaultWebFallbackMinTurn
	}
	if c.MinFallbackResults <= 0 {
		c.MinFallbackResults = DefaultMinFallbackResults
	}
	return c
}

// DefaultConfig returns the loop bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxTurns:           statex.DefaultMaxTurns,
		WebFallbackMinTurn: statex.DefaultWebFallbackMinTurn,
		MinFallbackResults: DefaultMinFallbackResults,
	}
}

// Validate rejects loop bounds that cannot run a single turn.
func (c *Config) Validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("%w: max_turns=%d", contractx.ErrValidation, c.MaxTurns)
	}
	if c.WebFallbackMinTurn < 0 {
		return fmt.Errorf("%w: web_fallback_min_turn=%d", contractx.ErrValidation, c.WebFallbackMinTurn)
	}
	if c.MinFallbackResults <= 0 {
		return fmt.Errorf("%w: min_fallback_results=%d", contractx.ErrValidation, c.MinFallbackResults)
	}
	return nil
}
