package env

import (
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
)

// Cfg is the process-wide configuration, set once at startup.
var Cfg *config.Config
