package alert

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/andresmejia3/vigil/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestStreamPublisher_XAdd(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	p, err := NewStreamPublisher(ctx, config.RedisConfig{Addr: mr.Addr(), Stream: "vigil:events"})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(ctx, sampleEvent()))

	ep := sampleEvent()
	ep.Kind = KindEpisode
	ep.From, ep.To = "", ""
	ep.Peak = "Sleeping"
	require.NoError(t, p.Publish(ctx, ep))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	msgs, err := client.XRange(ctx, "vigil:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, "transition", msgs[0].Values["kind"])
	require.Equal(t, "abc123", msgs[0].Values["session_id"])
	require.Equal(t, "Sleeping", msgs[0].Values["to"])
	require.Equal(t, "1100", msgs[0].Values["closure_ms"])

	require.Equal(t, "episode", msgs[1].Values["kind"])
	require.Equal(t, "Sleeping", msgs[1].Values["peak"])
	require.Equal(t, "false", msgs[1].Values["abandoned"])
}

func TestNewStreamPublisher_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewStreamPublisher(context.Background(), config.RedisConfig{Addr: addr, Stream: "s"})
	require.Error(t, err)
}
