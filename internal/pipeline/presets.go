package pipeline

import (
	"github.com/sirupsen/logrus"
)

// PresetConfig toggles each layer of the standard and authenticated
// pipelines.
type PresetConfig struct {
	ErrorHandling bool
	Logging       bool
	CORS          bool
	Auth          bool
}

func DefaultPresetConfig() PresetConfig {
	return PresetConfig{ErrorHandling: true, Logging: true, CORS: true, Auth: true}
}

type PresetDeps struct {
	Logger   *logrus.Logger
	CORS     *CORSConfig
	Verifier Verifier
}

// Standard is error handling, then logging, then CORS.
func Standard(cfg PresetConfig, deps PresetDeps) Middleware {
	return Compose(standardLayers(cfg, deps)...)
}

// Authenticated is Standard with Auth as its innermost layer.
func Authenticated(cfg PresetConfig, deps PresetDeps) Middleware {
	layers := standardLayers(cfg, deps)
	if cfg.Auth {
		layers = append(layers, Auth(AuthOptions{Verifier: deps.Verifier, Logger: deps.Logger}))
	}
	return Compose(layers...)
}

func standardLayers(cfg PresetConfig, deps PresetDeps) []Middleware {
	var layers []Middleware
	if cfg.ErrorHandling {
		layers = append(layers, ErrorHandling(deps.Logger, deps.CORS))
	}
	if cfg.Logging {
		layers = append(layers, Logging(deps.Logger))
	}
	if cfg.CORS {
		layers = append(layers, CORS(deps.CORS))
	}
	return layers
}
