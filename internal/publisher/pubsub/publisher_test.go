package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "crawler-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "crawl-progress")
	require.NoError(t, err)
	return srv, topic
}

func TestPublishSendsJSONWithKind(t *testing.T) {
	t.Parallel()

	srv, topic := newFakeTopic(t)
	pub := New(topic)
	defer pub.Stop()

	payload := map[string]any{"run_id": "0192", "stage": "SECTION_DONE", "section_key": "I", "downloaded": 3}
	id, err := pub.Publish(context.Background(), "SECTION_DONE", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, map[string]string{"kind": "SECTION_DONE"}, msgs[0].Attributes)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "I", got["section_key"])
	assert.InDelta(t, 3, got["downloaded"], 0)
}

func TestPublishWithoutKindOmitsAttributes(t *testing.T) {
	t.Parallel()

	srv, topic := newFakeTopic(t)
	pub := New(topic)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "", []string{"a"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Attributes)
	assert.JSONEq(t, `["a"]`, string(msgs[0].Data))
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, topic := newFakeTopic(t)
	pub := New(topic)
	defer pub.Stop()

	_, err := pub.Publish(context.Background(), "PAUSED", map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	pub := New(nil)
	_, err := pub.Publish(context.Background(), "SECTION_DONE", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "not configured")
	pub.Stop()
}
