package artifact

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
)

// ReplayPortfolio reconstructs a run's final cash and positions by
// replaying its fill log from the recorded initial cash. No strategy code
// runs; the artifact alone determines the result, which makes replay
// idempotent and a cross-check on the live application path.
func ReplayPortfolio(store *Store, runID string) (*domain.Portfolio, error) {
	run, err := store.Run(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	initialCash, err := decimal.NewFromString(run.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("corrupt initial cash in run %s: %w", runID, err)
	}

	fills, err := store.Fills(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fills for run %s: %w", runID, err)
	}

	pf := domain.NewPortfolio(initialCash)
	for _, f := range fills {
		pf.ApplyFill(f)
	}
	return pf, nil
}
