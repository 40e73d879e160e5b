package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darkpool-go/internal/engine"
)

func sampleExecution() engine.Execution {
	return engine.Execution{
		EpochID:     "epoch-3",
		EpochIndex:  3,
		Symbol:      "ETH-USDC",
		BuyOrderID:  "b",
		SellOrderID: "s",
		Amount:      decimal.RequireFromString("1.5"),
		Price:       decimal.NewFromInt(1995),
		ExecutedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestPublishExecution(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewSyncProducer(t, cfg)
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got engine.Execution
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.EpochID != "epoch-3" || !got.Price.Equal(decimal.NewFromInt(1995)) {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewKafkaPublisherWithProducer(prod, "executions", nil)
	require.NoError(t, p.PublishExecution(context.Background(), sampleExecution()))
	require.NoError(t, p.Close())
}

func TestPublishExecutionFailure(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewSyncProducer(t, cfg)
	prod.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(prod, "executions", nil)
	err := p.PublishExecution(context.Background(), sampleExecution())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestPublishExecutionCancelledContext(t *testing.T) {
	prod := mocks.NewSyncProducer(t, nil)
	p := NewKafkaPublisherWithProducer(prod, "executions", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishExecution(ctx, sampleExecution()), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(Config{Topic: "executions"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
}
