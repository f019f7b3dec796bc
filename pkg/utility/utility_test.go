package utility

import (
	"log/slog"

	"github.com/raterudder/loadshift/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
