package cli

import (
	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/infra/ledger"
)

// openLedger opens the progress ledger under the configured home
func openLedger() (*ledger.Ledger, app.Paths, error) {
	paths := app.ResolvePathsIn(Config().Home())
	ldg, err := ledger.Open(paths.LedgerDB)
	if err != nil {
		return nil, paths, err
	}
	return ldg, paths, nil
}
