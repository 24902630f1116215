package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/natternet/natter/src/common"
)

type Config struct {
	AnnounceInterval time.Duration `mapstructure:"announce"`
	ConnTimeout      time.Duration `mapstructure:"timeout"`
	SyncLimit        int           `mapstructure:"sync-limit"`
	Moniker          string        `mapstructure:"moniker"`
	Logger           *logrus.Logger
}

func NewConfig(announce time.Duration,
	timeout time.Duration,
	syncLimit int,
	moniker string,
	logger *logrus.Logger) *Config {

	return &Config{
		AnnounceInterval: announce,
		ConnTimeout:      timeout,
		SyncLimit:        syncLimit,
		Moniker:          moniker,
		Logger:           logger,
	}
}

func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		AnnounceInterval: 1000 * time.Millisecond,
		ConnTimeout:      1000 * time.Millisecond,
		SyncLimit:        1000,
		Logger:           logger,
	}
}

func TestConfig(t *testing.T) *Config {
	config := DefaultConfig()
	config.AnnounceInterval = 50 * time.Millisecond
	config.Logger = common.NewTestLogger(t)
	return config
}
