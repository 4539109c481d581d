package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-admin/internal/event"
)

func startHub(t *testing.T) (*Hub, *event.InMemoryBus, context.CancelFunc) {
	t.Helper()

	bus := event.NewBus()
	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, bus, cancel
}

func receive(t *testing.T, client *Client) (string, bool) {
	t.Helper()

	select {
	case frame, ok := <-client.Frames():
		return string(frame), ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return "", false
	}
}

func TestHubBroadcastsToEveryClient(t *testing.T) {
	hub, bus, _ := startHub(t)

	first, err := hub.Join(context.Background())
	require.NoError(t, err)
	second, err := hub.Join(context.Background())
	require.NoError(t, err)

	e := event.New(event.TypeLogin, nil, "user-1", event.StatusSuccess)
	bus.Publish(e)

	for _, client := range []*Client{first, second} {
		frame, ok := receive(t, client)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(frame, "id: "+e.ID+"\nevent: auth.login\ndata: {"))
		assert.True(t, strings.HasSuffix(frame, "}\n\n"))
		assert.Contains(t, frame, `"subject":"user-1"`)
	}
}

func TestHubLeaveClosesClient(t *testing.T) {
	hub, _, _ := startHub(t)

	client, err := hub.Join(context.Background())
	require.NoError(t, err)
	hub.Leave(client)

	_, ok := receive(t, client)
	assert.False(t, ok)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub, bus, _ := startHub(t)

	slow, err := hub.Join(context.Background())
	require.NoError(t, err)

	for i := 0; i < clientBuffer+1; i++ {
		bus.Publish(event.New(event.TypeRefresh, nil, "user-1", event.StatusSuccess))
	}

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-slow.Frames():
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHubShutdown(t *testing.T) {
	hub, _, cancel := startHub(t)

	client, err := hub.Join(context.Background())
	require.NoError(t, err)

	cancel()
	_, ok := receive(t, client)
	assert.False(t, ok)

	_, err = hub.Join(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	hub.Leave(client)
}
