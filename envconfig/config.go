// Package envconfig exposes process-wide settings read from STREAMVSR_*
// environment variables. Settings are parsed once on first use; tests
// that need different values go through Reload.
package envconfig

import (
	"sync"

	"github.com/caarlos0/env/v11"
)

// Settings is the full environment-driven configuration surface.
type Settings struct {
	// Idle-state wavelet compression for the lookback cache.
	Compression     bool `env:"STREAMVSR_COMPRESSION" envDefault:"false"`
	CompressionLvl  int  `env:"STREAMVSR_COMPRESSION_LEVEL" envDefault:"2"`
	CompressionIdle int  `env:"STREAMVSR_COMPRESSION_IDLE" envDefault:"32"`

	// Worker hint for row-parallel kernels. Zero derives from core count.
	WorkerThreads int `env:"STREAMVSR_THREADS" envDefault:"0"`

	LogLevel string `env:"STREAMVSR_LOG_LEVEL" envDefault:"info"`
}

var (
	mu       sync.RWMutex
	loaded   bool
	settings Settings
)

func load() Settings {
	mu.RLock()
	if loaded {
		defer mu.RUnlock()
		return settings
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !loaded {
		settings = Settings{}
		// Parse failures fall back to whatever defaults already applied;
		// a malformed variable must not take the pipeline down.
		_ = env.Parse(&settings)
		loaded = true
	}
	return settings
}

// Reload re-reads the environment. Primarily for tests.
func Reload() {
	mu.Lock()
	loaded = false
	mu.Unlock()
	load()
}

// CacheCompression reports whether idle lookback state should be
// wavelet-compressed.
func CacheCompression() bool { return load().Compression }

// CompressionLevel is the wavelet decomposition depth.
func CompressionLevel() int { return load().CompressionLvl }

// CompressionIdleThreshold is the number of steps a stage can sit
// untouched before its state is compressed.
func CompressionIdleThreshold() int { return load().CompressionIdle }

// Threads is the worker hint for compute kernels.
func Threads() int { return load().WorkerThreads }

// LogLevel is the default log verbosity.
func LogLevel() string { return load().LogLevel }
