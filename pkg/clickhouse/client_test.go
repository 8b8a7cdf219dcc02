package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name         string
		opts         []ClientOption
		wantAddr     string
		wantProtocol ch.Protocol
		wantSettings ch.Settings
	}{
		{
			name:         "defaults",
			opts:         []ClientOption{WithHost("ch")},
			wantAddr:     "ch:9000",
			wantProtocol: ch.Native,
			wantSettings: ch.Settings{},
		},
		{
			name: "http with async insert",
			opts: []ClientOption{
				WithHost("ch"),
				WithPort(8123),
				WithHTTP(true),
				WithAsyncInsert(true, false),
				WithMaxExecutionTime(90 * time.Second),
			},
			wantAddr:     "ch:8123",
			wantProtocol: ch.HTTP,
			wantSettings: ch.Settings{"async_insert": 1, "wait_for_async_insert": 0, "max_execution_time": 90},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			for _, opt := range tt.opts {
				opt(cfg)
			}
			got := cfg.options()
			require.Len(t, got.Addr, 1)
			assert.Equal(t, tt.wantAddr, got.Addr[0])
			assert.Equal(t, tt.wantProtocol, got.Protocol)
			assert.Equal(t, tt.wantSettings, got.Settings)
		})
	}
}

func TestCredentialsAndTimeouts(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch"),
		WithDatabase("trape"),
		WithCredentials("trader", "secret"),
		WithTimeouts(0, 30*time.Second),
	} {
		opt(cfg)
	}
	got := cfg.options()
	assert.Equal(t, ch.Auth{Database: "trape", Username: "trader", Password: "secret"}, got.Auth)
	assert.Equal(t, 5*time.Second, got.DialTimeout)
	assert.Equal(t, 30*time.Second, got.ReadTimeout)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
