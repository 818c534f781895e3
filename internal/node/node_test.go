package node

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(id int, peers ...string) Config {
	cfg := DefaultConfig()
	cfg.ID = id
	cfg.Peers = peers
	cfg.DialAttempts = 3
	cfg.DialBackoff = time.Millisecond
	return cfg
}

// newTestNode builds a node with a memory sink and a quiet logger and stops
// it when the test ends.
func newTestNode(t *testing.T, cfg Config, opts ...Option) (*Node, *eventlog.MemorySink) {
	t.Helper()
	sink := eventlog.NewMemorySink()
	opts = append([]Option{WithSink(sink), WithLogger(quietLogger())}, opts...)
	n, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	return n, sink
}

func awaitInbound(t *testing.T, n *Node, depth int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.AwaitInbound(ctx, depth))
}

func types(records []eventlog.Record) []eventlog.EventType {
	out := make([]eventlog.EventType, len(records))
	for i, r := range records {
		out[i] = r.Type
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(0)
	cfg.TickRate = 0
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(0)
	cfg.ListenAddr = taken.Addr().String()
	_, err = New(cfg, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, IsBindError(err))
}

func TestStart_DialRetryIsBounded(t *testing.T) {
	dialer := &testutil.RefusingDialer{}
	cfg := testConfig(0, "127.0.0.1:1", "127.0.0.1:2")
	cfg.DialAttempts = 4
	n, sink := newTestNode(t, cfg, WithDialer(dialer))

	require.NoError(t, n.Start(context.Background()))

	assert.Equal(t, 8, dialer.Attempts())
	assert.Equal(t, 0, n.PeerCount())
	assert.Equal(t, StateRunning, n.State())

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, eventlog.EventStart, records[0].Type)
	assert.Equal(t, int64(0), records[0].Clock)
	assert.Equal(t, "clock_rate=1;internal_prob=0.7", records[0].Extra)
}

func TestStart_Twice(t *testing.T) {
	n, _ := newTestNode(t, testConfig(0))
	require.NoError(t, n.Start(context.Background()))

	err := n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(ErrCodeState))
}

func TestStart_CancelledContextCutsBackoff(t *testing.T) {
	dialer := &testutil.RefusingDialer{}
	cfg := testConfig(0, "127.0.0.1:1")
	cfg.DialAttempts = 10
	cfg.DialBackoff = time.Hour
	n, _ := newTestNode(t, cfg, WithDialer(dialer))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = n.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("start blocked past context cancellation")
	}
	assert.Equal(t, 1, dialer.Attempts())
}

func TestInternal_TicksAndLogs(t *testing.T) {
	n, sink := newTestNode(t, testConfig(0))

	assert.Equal(t, int64(1), n.Internal())
	assert.Equal(t, int64(2), n.Internal())

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, eventlog.EventInternal, records[1].Type)
	assert.Equal(t, int64(2), records[1].Clock)
	assert.Equal(t, "", records[1].Extra)
}

// pair wires a sender with one peer (the receiver) over an in-memory network.
func pair(t *testing.T, enriched bool) (sender, receiver *Node, sendLog, recvLog *eventlog.MemorySink) {
	t.Helper()
	network := testutil.NewPipeNetwork()

	lr, err := network.Listen("receiver")
	require.NoError(t, err)
	receiver, recvLog = newTestNode(t, testConfig(1), WithListener(lr), WithDialer(network))
	require.NoError(t, receiver.Start(context.Background()))

	ls, err := network.Listen("sender")
	require.NoError(t, err)
	cfg := testConfig(0, "receiver")
	cfg.Enriched = enriched
	sender, sendLog = newTestNode(t, cfg, WithListener(ls), WithDialer(network))
	require.NoError(t, sender.Start(context.Background()))
	require.Equal(t, 1, sender.PeerCount())

	return sender, receiver, sendLog, recvLog
}

func TestSendReceive_LamportRules(t *testing.T) {
	sender, receiver, sendLog, recvLog := pair(t, false)

	sender.Internal()
	sender.Internal()
	assert.Equal(t, int64(3), sender.SendTo([]int{0}))

	awaitInbound(t, receiver, 1)
	assert.Equal(t, 1, receiver.QueueLen())
	require.True(t, receiver.Receive())
	assert.Equal(t, int64(4), receiver.Clock())
	assert.False(t, receiver.Receive())

	sent := sendLog.Records()
	assert.Equal(t, []eventlog.EventType{
		eventlog.EventStart, eventlog.EventInternal, eventlog.EventInternal, eventlog.EventSend,
	}, types(sent))
	assert.Equal(t, "peer(s) [0]", sent[3].Extra)
	assert.Equal(t, int64(3), sent[3].Clock)

	got := recvLog.Records()
	require.Len(t, got, 2)
	assert.Equal(t, eventlog.EventReceive, got[1].Type)
	assert.Equal(t, int64(4), got[1].Clock)
	assert.Equal(t, 0, got[1].QueueDepth)
}

func TestReceive_LocalClockAhead(t *testing.T) {
	sender, receiver, _, _ := pair(t, false)

	for range 9 {
		receiver.Internal()
	}
	sender.SendTo([]int{0})
	awaitInbound(t, receiver, 1)

	require.True(t, receiver.Receive())
	assert.Equal(t, int64(10), receiver.Clock())
}

func TestSend_EnrichedCarriesSenderID(t *testing.T) {
	sender, receiver, _, _ := pair(t, true)

	sender.Broadcast()
	awaitInbound(t, receiver, 1)

	msg, ok := receiver.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, msg.From)
	assert.Equal(t, int64(1), msg.Clock)
}

func TestSendTo_OutOfRangeIgnored(t *testing.T) {
	sender, _, sendLog, _ := pair(t, false)

	assert.Equal(t, int64(1), sender.SendTo([]int{5, -1}))

	last, ok := sendLog.Last()
	require.True(t, ok)
	assert.Equal(t, eventlog.EventSend, last.Type)
	assert.Equal(t, "peer(s) []", last.Extra)
}

func TestReceive_QueueDepthAfterRemoval(t *testing.T) {
	sender, receiver, _, recvLog := pair(t, false)

	sender.SendTo([]int{0})
	sender.SendTo([]int{0})
	sender.SendTo([]int{0})
	awaitInbound(t, receiver, 3)

	require.True(t, receiver.Receive())
	require.True(t, receiver.Receive())

	records := recvLog.Records()
	assert.Equal(t, 2, records[1].QueueDepth)
	assert.Equal(t, int64(2), records[1].Clock)
	assert.Equal(t, 1, records[2].QueueDepth)
	assert.Equal(t, int64(3), records[2].Clock)
}

func TestBroadcast_SameValueToEveryPeer(t *testing.T) {
	network := testutil.NewPipeNetwork()
	var peers []*Node
	for i, name := range []string{"b", "c"} {
		l, err := network.Listen(name)
		require.NoError(t, err)
		p, _ := newTestNode(t, testConfig(i+1), WithListener(l), WithDialer(network))
		require.NoError(t, p.Start(context.Background()))
		peers = append(peers, p)
	}

	la, err := network.Listen("a")
	require.NoError(t, err)
	hub, hubLog := newTestNode(t, testConfig(0, "b", "c"), WithListener(la), WithDialer(network))
	require.NoError(t, hub.Start(context.Background()))
	require.Equal(t, 2, hub.PeerCount())

	assert.Equal(t, int64(1), hub.Broadcast())

	for _, p := range peers {
		awaitInbound(t, p, 1)
		msg, ok := p.queue.Pop()
		require.True(t, ok)
		assert.Equal(t, int64(1), msg.Clock)
	}

	last, _ := hubLog.Last()
	assert.Equal(t, eventlog.AllPeers, last.Extra)
	assert.Equal(t, int64(1), hub.Clock())
}

func TestSendTo_TargetsOnlyAddressedPeerOverTCP(t *testing.T) {
	b, bLog := newTestNode(t, testConfig(1))
	c, cLog := newTestNode(t, testConfig(2))
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))

	a, _ := newTestNode(t, testConfig(0, b.Addr(), c.Addr()))
	require.NoError(t, a.Start(context.Background()))
	require.Equal(t, 2, a.PeerCount())

	assert.Equal(t, int64(1), a.SendTo([]int{1}))
	awaitInbound(t, c, 1)
	assert.Equal(t, int64(2), a.SendTo([]int{0}))
	awaitInbound(t, b, 1)

	require.True(t, c.Receive())
	require.True(t, b.Receive())

	// C witnessed 1, B witnessed 2: each saw only its own message.
	cLast, _ := cLog.Last()
	bLast, _ := bLog.Last()
	assert.Equal(t, int64(2), cLast.Clock)
	assert.Equal(t, int64(3), bLast.Clock)
	assert.Equal(t, 0, b.QueueLen())
	assert.Equal(t, 0, c.QueueLen())
}

func TestReadLoop_MalformedPayloadClosesConnection(t *testing.T) {
	n, _ := newTestNode(t, testConfig(0))
	require.NoError(t, n.Start(context.Background()))

	bad, err := net.Dial("tcp", n.Addr())
	require.NoError(t, err)
	defer bad.Close()
	_, err = bad.Write([]byte("abc\n5\n"))
	require.NoError(t, err)

	require.NoError(t, bad.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = bufio.NewReader(bad).ReadByte()
	require.Error(t, err, "connection should be closed by the node")
	assert.Equal(t, 0, n.QueueLen())

	good, err := net.Dial("tcp", n.Addr())
	require.NoError(t, err)
	defer good.Close()
	_, err = good.Write([]byte("5\n"))
	require.NoError(t, err)

	awaitInbound(t, n, 1)
	require.True(t, n.Receive())
	assert.Equal(t, int64(6), n.Clock())
}

func TestReadLoop_MaxClockValueIsRejected(t *testing.T) {
	n, _ := newTestNode(t, testConfig(0))
	require.NoError(t, n.Start(context.Background()))
	n.Internal()

	conn, err := net.Dial("tcp", n.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("9223372036854775807\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = bufio.NewReader(conn).ReadByte()
	require.Error(t, err, "connection should be closed by the node")

	assert.Equal(t, 0, n.QueueLen())
	assert.False(t, n.Receive())
	assert.Equal(t, int64(1), n.Clock())
}

func TestStep_ReceiveTakesPriority(t *testing.T) {
	sender, receiver, _, _ := pair(t, false)
	receiver.rand = testutil.NewScriptedRand(nil, nil)

	sender.SendTo([]int{0})
	awaitInbound(t, receiver, 1)

	// An empty script would panic on any draw.
	assert.Equal(t, ActionReceive, receiver.Step())
}

func TestStep_InternalProbabilityThreshold(t *testing.T) {
	n, _ := newTestNode(t, testConfig(0), WithRand(testutil.NewScriptedRand([]float64{0.69}, nil)))
	assert.Equal(t, ActionInternal, n.Step())
	assert.Equal(t, int64(1), n.Clock())
}

func TestStep_NoPeersFallsBackToInternal(t *testing.T) {
	for category := range 3 {
		script := testutil.NewScriptedRand([]float64{0.95}, []int{category})
		n, sink := newTestNode(t, testConfig(0), WithRand(script))

		assert.Equal(t, ActionInternal, n.Step())
		last, _ := sink.Last()
		assert.Equal(t, eventlog.EventInternal, last.Type)
		assert.Equal(t, int64(1), last.Clock)
	}
}

func TestStep_SendCategories(t *testing.T) {
	sender, _, sendLog, _ := pair(t, false)

	sender.rand = testutil.NewScriptedRand(
		[]float64{0.9, 0.9, 0.9},
		[]int{0, 0, 1, 0, 2},
	)

	assert.Equal(t, ActionSend, sender.Step())
	assert.Equal(t, ActionSend, sender.Step())
	assert.Equal(t, ActionBroadcast, sender.Step())

	records := sendLog.Records()
	require.Len(t, records, 4)
	assert.Equal(t, "peer(s) [0]", records[1].Extra)
	assert.Equal(t, "peer(s) [0]", records[2].Extra)
	assert.Equal(t, eventlog.AllPeers, records[3].Extra)
	assert.Equal(t, int64(3), sender.Clock())
}

func TestSend_WriteFailureKeepsPeerIndex(t *testing.T) {
	sender, receiver, sendLog, _ := pair(t, false)
	receiver.Stop()

	// The first write may succeed into the closed pipe or fail; either way
	// the sender logs both sends and keeps its peer list.
	sender.SendTo([]int{0})
	sender.SendTo([]int{0})

	assert.Equal(t, 1, sender.PeerCount())
	last, _ := sendLog.Last()
	assert.Equal(t, int64(2), last.Clock)
	assert.Equal(t, "peer(s) [0]", last.Extra)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	cfg := testConfig(0)
	cfg.TickRate = 100
	n, sink := newTestNode(t, cfg, WithRand(rand.New(rand.NewPCG(1, 2))))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, n.Run(ctx))

	assert.Equal(t, StateStopped, n.State())

	records := sink.Records()
	require.Greater(t, len(records), 2)
	assert.Equal(t, eventlog.EventStart, records[0].Type)
	for i, r := range records[1:] {
		assert.Equal(t, eventlog.EventInternal, r.Type)
		assert.Equal(t, int64(i+1), r.Clock)
	}
}

func TestRun_StopInterruptsSleep(t *testing.T) {
	cfg := testConfig(0)
	cfg.TickRate = 1
	n, _ := newTestNode(t, cfg, WithRand(rand.New(rand.NewPCG(3, 4))))

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()

	require.Eventually(t, func() bool { return n.Clock() >= 1 }, 5*time.Second, 5*time.Millisecond)
	began := time.Now()
	n.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after stop")
	}
	assert.Less(t, time.Since(began), 900*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	sender, receiver, _, _ := pair(t, false)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender.Stop()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateStopped, sender.State())
	assert.Equal(t, ActionNone, sender.Step())

	receiver.Stop()
	assert.Equal(t, StateStopped, receiver.State())
	err := receiver.AwaitInbound(context.Background(), 1)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
