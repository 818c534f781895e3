package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roach88/lamportlab/internal/eventlog"
	"github.com/roach88/lamportlab/internal/node"
	"github.com/roach88/lamportlab/internal/store"
	"github.com/roach88/lamportlab/internal/testutil"
)

// StepTimeout bounds every wait the harness does: connecting the mesh and
// each delivery after a send.
const StepTimeout = 5 * time.Second

// Harness is the scenario execution engine.
// Nodes run over an in-memory pipe network with a fake wall clock, and the
// harness drives them one action at a time instead of letting their
// schedulers run, so every execution of a scenario yields the same trace.
type Harness struct {
	scenario *Scenario
	network  *testutil.PipeNetwork
	clock    *testutil.FakeClock
	store    *store.Store
	runID    string
	logger   *slog.Logger

	nodes   []*node.Node
	sinks   []*eventlog.MemorySink
	pending []int // messages each node has been sent but not yet received
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation; every
// record is tee'd into it under a run named after the scenario, which is
// what event_count assertions query.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Start a full mesh of nodes and wait for every link
// 3. Execute steps, waiting for each sent message to be queued
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		network:  testutil.NewPipeNetwork(),
		clock:    testutil.NewFakeClock(testutil.DefaultEpoch, time.Millisecond),
		store:    st,
		runID:    scenario.Name,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:  make([]int, scenario.Nodes),
	}
	defer h.stop()

	ctx := context.Background()
	if err := st.CreateRun(ctx, store.Run{ID: h.runID, Name: scenario.Name, CreatedAt: testutil.DefaultEpoch}); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := h.start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start nodes: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	for i, n := range h.nodes {
		result.Clocks = append(result.Clocks, n.Clock())
		result.Queues = append(result.Queues, n.QueueLen())
		result.Logs = append(result.Logs, h.sinks[i].Records())
	}

	actx := &AssertionContext{Store: st, RunID: h.runID, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// addr is the pipe network address of node id.
func addr(id int) string {
	return fmt.Sprintf("node-%d", id)
}

// peerNode maps a peer index on node self to the peer's node id.
func peerNode(self, index int) int {
	if index < self {
		return index
	}
	return index + 1
}

// start binds every listener before starting any node, then starts all nodes
// at once: a pipe dial only completes when the peer's accept loop is running.
func (h *Harness) start(ctx context.Context) error {
	count := h.scenario.Nodes
	for i := range count {
		l, err := h.network.Listen(addr(i))
		if err != nil {
			return err
		}

		cfg := node.DefaultConfig()
		cfg.ID = i
		cfg.Enriched = h.scenario.Enriched
		cfg.DialAttempts = 1
		cfg.DialBackoff = time.Millisecond
		for j := range count {
			if j != i {
				cfg.Peers = append(cfg.Peers, addr(j))
			}
		}

		nodeSink, err := h.store.NewNodeSink(ctx, h.runID, i)
		if err != nil {
			l.Close()
			return err
		}
		mem := eventlog.NewMemorySink()
		n, err := node.New(cfg,
			node.WithListener(l),
			node.WithDialer(h.network),
			node.WithSink(eventlog.Tee(mem, nodeSink)),
			node.WithNow(h.clock.Now),
			node.WithRand(rand.New(rand.NewPCG(uint64(i), 0))),
			node.WithLogger(h.logger.With("node", i)),
		)
		if err != nil {
			l.Close()
			return err
		}
		h.nodes = append(h.nodes, n)
		h.sinks = append(h.sinks, mem)
	}

	waitCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, n := range h.nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.Start(waitCtx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, n := range h.nodes {
		if got := n.PeerCount(); got != count-1 {
			return fmt.Errorf("node %d connected to %d of %d peers", n.ID(), got, count-1)
		}
		if err := n.AwaitPeers(waitCtx, count-1); err != nil {
			return fmt.Errorf("node %d: waiting for inbound links: %w", n.ID(), err)
		}
	}
	h.logger.Info("mesh connected", "nodes", count)
	return nil
}

// executeStep performs one step. A receive on an empty queue fails the
// scenario but lets the remaining steps run; infrastructure failures abort.
func (h *Harness) executeStep(i int, step Step, result *Result) error {
	n := h.nodes[step.Node]
	var recipients []int

	switch step.Action {
	case ActionInternal:
		n.Internal()
	case ActionSend:
		n.SendTo(step.Targets)
		for _, t := range step.Targets {
			recipients = append(recipients, peerNode(step.Node, t))
		}
	case ActionBroadcast:
		n.Broadcast()
		for t := range n.PeerCount() {
			recipients = append(recipients, peerNode(step.Node, t))
		}
	case ActionReceive:
		if !n.Receive() {
			result.AddError(fmt.Sprintf("step %d: node %d has no message to receive", i, step.Node))
			return nil
		}
		h.pending[step.Node]--
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	for _, r := range recipients {
		h.pending[r]++
		ctx, cancel := context.WithTimeout(context.Background(), StepTimeout)
		err := h.nodes[r].AwaitInbound(ctx, h.pending[r])
		cancel()
		if err != nil {
			return fmt.Errorf("waiting for delivery to node %d: %w", r, err)
		}
	}

	rec, ok := h.sinks[step.Node].Last()
	if !ok {
		return fmt.Errorf("node %d logged nothing", step.Node)
	}
	result.AddTrace(i, step.Node, rec, step.Label)

	h.logger.Info("step completed",
		"step", i,
		"node", step.Node,
		"action", step.Action,
		"clock", rec.Clock,
	)
	return nil
}

func (h *Harness) stop() {
	for _, n := range h.nodes {
		n.Stop()
	}
}
