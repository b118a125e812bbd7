package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Resetter drives every relay to its inactive state.
type Resetter interface {
	Reset() error
}

// ExitFunc is replaced in tests.
var ExitFunc = os.Exit

// Release turns the relays off and returns the exit code to use.
func Release(r Resetter) int {
	if r == nil {
		return 0
	}
	if err := r.Reset(); err != nil {
		log.Error().Err(err).Msg("Failed to turn relays off")
		return 1
	}
	log.Info().Msg("Relays turned off")
	return 0
}

// ShutdownWithError logs err and exits with code 1 after releasing the relays.
func ShutdownWithError(r Resetter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Release(r)
	ExitFunc(1)
}
