// Package citylog wires up the structured logger shared across the block
// production pipeline: one logrus.Logger, with WithFields used at component
// boundaries (block start/finalize, job pop/complete, L1 send).
//
// Grounded on orbas1-Synnergy's core package, which passes a *logrus.Logger
// into component constructors (core/authority_nodes.go, core/consensus.go)
// and falls back to logrus.StandardLogger() when none is given
// (core/blockchain_synchronization.go).
package citylog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger at the given level (parsed with logrus.ParseLevel;
// an unrecognized level falls back to Info), writing JSON-formatted entries
// to stderr.
func New(level string) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(os.Stderr)
	lg.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)
	return lg
}

// Default returns the package-level default logger (logrus.StandardLogger),
// for components constructed without an explicit logger.
func Default() *logrus.Logger {
	return logrus.StandardLogger()
}

// ForComponent returns an entry pre-tagged with "component", the way
// orbas1-Synnergy's consensus and ledger components log under a consistent
// subsystem field.
func ForComponent(lg *logrus.Logger, component string) *logrus.Entry {
	return lg.WithField("component", component)
}
