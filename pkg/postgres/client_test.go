package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestNewClientRequiresDSN(t *testing.T) {
	_, err := NewClient(WithMaxConnections(4, 2))
	assert.EqualError(t, err, "dsn is required")
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want logger.LogLevel
	}{
		{name: "silent", in: "silent", want: logger.Silent},
		{name: "error", in: "error", want: logger.Error},
		{name: "info", in: "info", want: logger.Info},
		{name: "unknown falls back to warn", in: "trace", want: logger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(tt.in))
		})
	}
}
