package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"Trape/internal/domain/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNATSConn struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeNATSConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATSConn) Close() error {
	f.closed = true
	return nil
}

func TestNATSRecommendationPublisher(t *testing.T) {
	conn := &fakeNATSConn{}
	p := &NATSRecommendationPublisher{conn: conn, subject: "trape.recommendations"}
	rec := models.Recommendation{Symbol: "BTCUSDT", Action: models.ActionBuy, Indicator: 1.25, Price: 100.1,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	require.NoError(t, p.Publish(context.Background(), rec))
	require.Equal(t, []string{"trape.recommendations.BTCUSDT"}, conn.subjects)
	var got models.Recommendation
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, rec, got)

	conn.err = errors.New("nats: connection closed")
	assert.Error(t, p.Publish(context.Background(), rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, rec), context.Canceled)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}
