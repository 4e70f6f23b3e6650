package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger. "dev" gives a console logger; anything else
// the production JSON encoder.
func New(mode string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "dev", "development":
		return zap.NewDevelopment()
	case "", "prod", "production":
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		return cfg.Build()
	default:
		return nil, fmt.Errorf("logging: unknown LOG_MODE %q", mode)
	}
}
