package recovery

import "github.com/seekwell/apply-cli/internal/model"

// Strategy is the recovery action taken for a classified error.
type Strategy string

const (
	StrategyRetry    Strategy = "retry"
	StrategySkip     Strategy = "skip"
	StrategyFallback Strategy = "fallback"
	StrategyRestart  Strategy = "restart"
	StrategyManual   Strategy = "manual"
	StrategyAbort    Strategy = "abort"
)

// Surfaced reports whether the strategy must be escalated to the caller
// rather than handled locally.
func (s Strategy) Surfaced() bool {
	switch s {
	case StrategyRestart, StrategyManual, StrategyAbort:
		return true
	}
	return false
}

// defaultStrategy maps each category to its baseline recovery action.
var defaultStrategy = map[model.Category]Strategy{
	model.CategoryNetwork:        StrategyRetry,
	model.CategoryDatabase:       StrategyRetry,
	model.CategoryValidation:     StrategySkip,
	model.CategoryProcessing:     StrategyRetry,
	model.CategoryAuthentication: StrategyManual,
	model.CategoryPermission:     StrategyManual,
	model.CategoryTimeout:        StrategyRetry,
	model.CategoryResource:       StrategyFallback,
	model.CategoryUnknown:        StrategyManual,
}

// SelectStrategy picks the recovery strategy for a classified error.
// Severity overrides the category default: critical failures abort, low
// ones are skipped. An exhausted retry budget also degrades to skip so the
// caller never loops on a dead task.
func SelectStrategy(category model.Category, severity model.Severity, retriesExhausted bool) Strategy {
	strategy, ok := defaultStrategy[category]
	if !ok {
		strategy = StrategyManual
	}

	switch severity {
	case model.SeverityCritical:
		return StrategyAbort
	case model.SeverityLow:
		return StrategySkip
	}

	if retriesExhausted && strategy == StrategyRetry {
		return StrategySkip
	}

	return strategy
}
