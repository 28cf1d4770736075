package plugins

import (
	"go.uber.org/zap"

	"github.com/joshp123/gohome-medtrum/internal/config"
	"github.com/joshp123/gohome-medtrum/internal/core"
	"github.com/joshp123/gohome-medtrum/plugins/medtrum"
)

func init() {
	Register(func(cfg *config.Config, logger *zap.Logger) (core.Plugin, bool) {
		plugin, ok := medtrum.NewPlugin(cfg.Medtrum, cfg.MQTT, logger)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
