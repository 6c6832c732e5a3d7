package shutdown

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/env"
)

// Stopper halts every actuator.
type Stopper interface {
	StopAll(ctx context.Context) error
}

const stopTimeout = 30 * time.Second

var exit = os.Exit

// Shutdown stops all actuators unless safe mode is on, then exits with code.
func Shutdown(s Stopper, code int) {
	if env.Cfg != nil && env.Cfg.SafeMode {
		log.Warn().Msg("Safe mode: leaving actuators as they are")
		exit(code)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.StopAll(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop every actuator")
	} else {
		log.Info().Msg("All actuators stopped")
	}
	exit(code)
}

func ShutdownWithError(s Stopper, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(s, 1)
}
