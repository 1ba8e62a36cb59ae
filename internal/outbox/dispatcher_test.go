package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	written map[string][]kafka.Message
	failOn  map[string]error
}

func (f *fakeWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if err := f.failOn[topic]; err != nil {
		return err
	}
	if f.written == nil {
		f.written = make(map[string][]kafka.Message)
	}
	f.written[topic] = append(f.written[topic], msgs...)
	return nil
}

func msg(id int64, topic, eventType, key string) Message {
	return Message{
		EventID:       id,
		AggregateType: "symptom_log",
		AggregateID:   key + ":2024-02-05",
		EventType:     eventType,
		Topic:         topic,
		PartitionKey:  key,
		Payload:       json.RawMessage(`{"user_id":"` + key + `"}`),
	}
}

func TestDeliverGroupsByTopicInOrder(t *testing.T) {
	writer := &fakeWriter{}
	d := &Dispatcher{producer: writer, logger: zap.NewNop()}

	delivered, failed := d.deliver(context.Background(), []Message{
		msg(1, "logs", "symptom_log.merged", "u1"),
		msg(2, "profiles", "profile.replaced", "u1"),
		msg(3, "logs", "symptom_log.merged", "u2"),
	})
	require.Empty(t, failed)
	require.Len(t, delivered, 3)

	logs := writer.written["logs"]
	require.Len(t, logs, 2)
	require.Equal(t, "u1", string(logs[0].Key))
	require.Equal(t, "u2", string(logs[1].Key))
	require.Equal(t, `{"user_id":"u1"}`, string(logs[0].Value))
	require.Equal(t, kafka.Header{Key: "event_type", Value: []byte("symptom_log.merged")}, logs[0].Headers[0])
	require.Len(t, writer.written["profiles"], 1)
}

func TestDeliverSeparatesFailedTopics(t *testing.T) {
	writer := &fakeWriter{failOn: map[string]error{"profiles": errors.New("leader not available")}}
	d := &Dispatcher{producer: writer, logger: zap.NewNop()}

	delivered, failed := d.deliver(context.Background(), []Message{
		msg(1, "logs", "symptom_log.merged", "u1"),
		msg(2, "profiles", "profile.replaced", "u1"),
	})
	require.Len(t, delivered, 1)
	require.Equal(t, int64(1), delivered[0].EventID)
	require.Len(t, failed, 1)
	require.Equal(t, int64(2), failed[0].msg.EventID)
	require.Contains(t, failed[0].reason, "topic=profiles")
}
