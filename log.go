package bunker

import (
	"github.com/rs/zerolog"
)

// Logger is disabled by default, replace it (e.g. with zerolog.New(os.Stderr)) to enable logging.
var Logger = zerolog.Nop()
