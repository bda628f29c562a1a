package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/tally-network/tally/internal/daemon"
	"github.com/tally-network/tally/internal/domain"
)

// openDaemon constructs the daemon for a one-shot command. Callers must
// Close it.
func openDaemon() (*daemon.Daemon, error) {
	return daemon.New()
}

// parseAmountArg parses a decimal amount argument with a labeled error.
func parseAmountArg(label, raw string) (int64, error) {
	v, err := domain.ParseAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}
	return v, nil
}

// newTable creates a stdout tabwriter for list output.
func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
