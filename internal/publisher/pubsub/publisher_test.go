package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "harvest-runs")
	require.NoError(t, err)
	defer topic.Stop()

	pub := New(topic, map[string]string{"source": "czds"})
	id, err := pub.Publish(ctx, map[string]any{"run_id": "run-1", "total_resources_probed": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"run_id":"run-1","total_resources_probed":2}`, string(msgs[0].Data))
	require.Equal(t, "czds", msgs[0].Attributes["source"])
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Publish(context.Background(), "x")
	require.Error(t, err)
}

func TestOpenValidatesInput(t *testing.T) {
	t.Parallel()

	_, _, err := Open(context.Background(), "", "topic", nil)
	require.Error(t, err)
}
