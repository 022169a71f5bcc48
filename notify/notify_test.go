package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/dualpath/clock"
	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/testkit"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func testState() monitor.State {
	return monitor.State{
		DirectConnection: monitor.ProbeResult{Status: monitor.StatusConnected, LastChecked: time.Unix(100, 0).UTC()},
		CorsProxy:        monitor.ProbeResult{Status: monitor.StatusError, Error: "no proxy"},
		APIEndpoints:     monitor.ProbeResult{Status: monitor.StatusChecking},
		MarketData:       monitor.ProbeResult{Status: monitor.StatusConnected},
	}
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(nil, &Config{})
	assert.ErrorIs(t, err, ErrConnNil)

	_, err = NewPublisher(&fakeConn{}, nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = NewPublisher(&fakeConn{}, &Config{Serializer: "xml"})
	assert.Error(t, err)

	_, err = NewPublisher(&fakeConn{}, &Config{Subject: "dualpath."})
	assert.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			conn := &fakeConn{}
			clk := clock.NewFake(time.Unix(200, 0).UTC())
			pub, err := NewPublisher(conn, &Config{Subject: "dualpath.status", Serializer: name, Source: "edge-1"}, WithClock(clk))
			require.NoError(t, err)

			require.NoError(t, pub.Publish(context.Background(), testState()))
			require.Len(t, conn.msgs, 1)

			msg := conn.msgs[0]
			assert.Equal(t, "dualpath.status", msg.Subject)
			assert.Equal(t, name, msg.Header.Get(HeaderEncoding))

			ev, err := Decode(msg)
			require.NoError(t, err)
			assert.Equal(t, "edge-1", ev.Source)
			assert.True(t, ev.PublishedAt.Equal(clk.Now()))
			assert.Equal(t, monitor.StatusConnected, ev.State.DirectConnection.Status)
			assert.Equal(t, "no proxy", ev.State.CorsProxy.Error)
			assert.True(t, ev.State.DirectConnection.LastChecked.Equal(time.Unix(100, 0)))
		})
	}
}

func TestPublisher_NotifySwallowsErrors(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	pub, err := NewPublisher(conn, &Config{})
	require.NoError(t, err)

	assert.Error(t, pub.Publish(context.Background(), testState()))
	assert.NotPanics(t, func() { pub.Notify(testState()) })
	assert.Empty(t, conn.msgs)
}

func TestConnect_Unavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, &Config{URL: "nats://127.0.0.1:1"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Connect(context.Background(), &Config{URL: "nats://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

// 需要本地 NATS，地址见 testkit.NATSURLEnv
func TestPublisher_NATS(t *testing.T) {
	url := testkit.NATSURL(t)
	ctx := testkit.NewContext(t, 10*time.Second)
	subject := "dualpath.test." + testkit.NewID()

	cfg := &Config{URL: url, Subject: subject, Serializer: "msgpack"}
	conn, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("nats unavailable: %v", err)
	}
	defer conn.Close()

	observer := testkit.NATSConn(t)
	sub, err := observer.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, observer.Flush())

	pub, err := NewPublisher(conn, cfg)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, testState()))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	ev, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusError, ev.State.CorsProxy.Status)
}
