// Package log is a thin wrapper around github.com/luxfi/log, the logging
// library the rest of this module's packages are written against.
package log

import (
	luxlog "github.com/luxfi/log"
)

// Logger is the interface ingest logs through.
type Logger = luxlog.Logger

// Root re-exports the luxfi/log constructor so callers never need to
// import luxfi/log directly.
var Root = luxlog.Root
