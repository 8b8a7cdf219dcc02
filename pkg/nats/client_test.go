package nats

import (
	"testing"

	applogger "Trape/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestPublishRequiresConnection(t *testing.T) {
	c := &Client{l: applogger.Nop()}
	assert.False(t, c.IsConnected())
	assert.EqualError(t, c.Publish("trape.recommendations", []byte("{}")), "nats client not connected")
	assert.NoError(t, c.Close())
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(WithURL("nats://127.0.0.1:1"), WithReconnect(0, 0))
	assert.ErrorContains(t, err, "nats connect")
}
