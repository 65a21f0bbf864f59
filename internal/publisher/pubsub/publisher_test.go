package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type committed struct {
	ListingID string `json:"listing_id"`
	Dir       string `json:"dir"`
}

func (c committed) Attributes() map[string]string {
	return map[string]string{"event": "listing.committed", "listing_id": c.ListingID}
}

func TestBuildMessageCopiesAttributes(t *testing.T) {
	t.Parallel()

	msg, err := buildMessage(context.Background(), committed{ListingID: "id-1", Dir: "data/toyota/camry/id-1"})
	require.NoError(t, err)

	var got committed
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "id-1", got.ListingID)
	assert.Equal(t, "listing.committed", msg.Attributes["event"])
	assert.Equal(t, "id-1", msg.Attributes["listing_id"])
}

func TestBuildMessagePlainPayload(t *testing.T) {
	t.Parallel()

	msg, err := buildMessage(context.Background(), map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(msg.Data))
	assert.NotNil(t, msg.Attributes)

	_, err = buildMessage(context.Background(), make(chan int))
	require.Error(t, err)
}

func TestPublishRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "", committed{})
	require.Error(t, err)

	_, _, err = Dial(context.Background(), Config{})
	require.Error(t, err)
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}

func TestPublishToFakeServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/demo/topics/listing-committed"})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "demo", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	pub := New(client.Publisher("listing-committed"))
	defer pub.Stop()

	id, err := pub.Publish(ctx, "ignored", committed{ListingID: "id-1", Dir: "data/toyota/camry/id-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "id-1", msgs[0].Attributes["listing_id"])
	assert.JSONEq(t, `{"listing_id":"id-1","dir":"data/toyota/camry/id-1"}`, string(msgs[0].Data))
}
