package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docmap/docmap/internal/config"
	"github.com/docmap/docmap/internal/logging"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			logger, err := logging.New(config.Log{Level: "warn", Format: format})
			require.NoError(t, err)
			assert.False(t, logger.Core().Enabled(zap.InfoLevel))
			assert.True(t, logger.Core().Enabled(zap.WarnLevel))
		})
	}

	t.Run("invalid level", func(t *testing.T) {
		_, err := logging.New(config.Log{Level: "loud", Format: "json"})
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := logging.New(config.Log{Level: "info", Format: "xml"})
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}
