// Package bridge implements the MQTT→HTTP bridge controller.
//
// The controller owns the broker subscription, the bounded ingestion queue
// and the worker draining it. The subscription callback runs on the MQTT
// client's delivery goroutine and only decodes, classifies and enqueues;
// all forwarding happens on the worker so the broker's delivery loop is
// never held across network I/O.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/proyecto-redes/puente/internal/config"
	"github.com/proyecto-redes/puente/internal/forward"
	"github.com/proyecto-redes/puente/internal/message"
	"github.com/proyecto-redes/puente/internal/queue"
	"github.com/proyecto-redes/puente/internal/state"
)

// State is the controller lifecycle phase. Transitions only move forward;
// a stopped bridge must be recreated.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	// joinTimeout bounds how long shutdown waits for the worker. The stop
	// signal is cooperative: a worker stuck in an HTTP call is abandoned
	// after this window so the process can exit.
	joinTimeout = 3 * time.Second

	// disconnectQuiesce is the grace period handed to paho's Disconnect,
	// in milliseconds.
	disconnectQuiesce = 250
)

// Poster abstracts the HTTP forwarder so dispatch can be exercised without
// a network in tests.
type Poster interface {
	Post(ctx context.Context, url string, body any) forward.Result
}

// Bridge wires the subscription, queue, node store and forwarder together.
type Bridge struct {
	cfg   *config.Config
	store *state.Store
	queue *queue.Queue
	fwd   Poster

	// controlURL is the collection server base with any trailing "/datos"
	// stripped, plus the control-response sub-path.
	controlURL string

	state   atomic.Int32
	running chan struct{}
	stats   stats

	joinTimeout time.Duration
	now         func() int64
}

// New creates a bridge in the Created state.
func New(cfg *config.Config, fwd Poster) *Bridge {
	return &Bridge{
		cfg:         cfg,
		store:       state.New(),
		queue:       queue.New(cfg.Queue.Capacity),
		fwd:         fwd,
		controlURL:  controlEndpoint(cfg.Server.URL),
		running:     make(chan struct{}),
		joinTimeout: joinTimeout,
		now:         func() int64 { return time.Now().Unix() },
	}
}

// controlEndpoint derives the control-response URL from the collection base.
func controlEndpoint(base string) string {
	return strings.TrimSuffix(base, "/datos") + "/api/control_response"
}

// State returns the current lifecycle phase.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Running returns a channel closed once the bridge reaches the Running
// state, i.e. the broker has acknowledged the subscription.
func (b *Bridge) Running() <-chan struct{} {
	return b.running
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	slog.Debug("bridge state", "state", s)
}

// Run connects to the broker, subscribes, and processes messages until ctx
// is cancelled, then performs the shutdown sequence and returns. A broker
// connection or subscription failure during startup is returned as a fatal
// error; everything after Running is recovered internally.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("bridge already started (state %s)", b.State())
	}
	slog.Info("bridge starting",
		"broker", b.cfg.Broker.URI(),
		"topic", b.cfg.Broker.Topic,
		"server", b.cfg.Server.URL)

	// The worker gets its own context so it keeps draining during the
	// shutdown sequence only until we explicitly cancel it.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		b.workerLoop(workerCtx)
	}()

	client, err := b.connect(ctx)
	if err != nil {
		b.shutdown(nil, stopWorker, workerDone)
		return fmt.Errorf("connecting to broker %s: %w", b.cfg.Broker.URI(), err)
	}

	b.setState(StateRunning)
	close(b.running)
	slog.Info("bridge running")

	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	b.shutdown(client, stopWorker, workerDone)
	return nil
}

// connect establishes the broker session and waits for the subscription to
// be acknowledged. The on-connect handler re-subscribes after reconnects.
func (b *Bridge) connect(ctx context.Context) (paho.Client, error) {
	clientID := b.cfg.Broker.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("puente-%d", time.Now().UnixNano())
	}

	subResult := make(chan error, 1)

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker.URI()).
		SetClientID(clientID).
		SetUsername(b.cfg.Broker.Username).
		SetPassword(b.cfg.Broker.Password).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.Subscribe(b.cfg.Broker.Topic, 0, b.onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				slog.Error("subscribe failed", "topic", b.cfg.Broker.Topic, "error", err)
				select {
				case subResult <- err:
				default:
				}
				return
			}
			slog.Info("subscribed to topic pattern", "topic", b.cfg.Broker.Topic)
			select {
			case subResult <- nil:
			default:
			}
		}).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			slog.Warn("broker connection lost", "error", err)
		})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	// The first subscription ack decides whether startup succeeded.
	select {
	case err := <-subResult:
		if err != nil {
			client.Disconnect(disconnectQuiesce)
			return nil, fmt.Errorf("subscribing to %s: %w", b.cfg.Broker.Topic, err)
		}
	case <-ctx.Done():
		client.Disconnect(disconnectQuiesce)
		return nil, ctx.Err()
	}
	return client, nil
}

// shutdown runs the stop sequence: stop the delivery loop, cancel the
// worker, join it within the bounded window, and mark the bridge Stopped
// whether or not the join completed.
func (b *Bridge) shutdown(client paho.Client, stopWorker func(), workerDone <-chan struct{}) {
	b.setState(StateStopping)
	if client != nil {
		// Disconnect errors do not affect already-delivered data; paho
		// logs them internally and we carry on.
		client.Disconnect(disconnectQuiesce)
		slog.Debug("disconnected from broker")
	}
	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(b.joinTimeout):
		slog.Warn("worker did not exit within join timeout, abandoning it")
	}
	b.setState(StateStopped)
	slog.Info("bridge stopped")
}

// onMessage is the subscription callback. It runs on the MQTT delivery
// goroutine and must not block: decode, classify, enqueue, nothing else.
func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	b.stats.received.Add(1)
	topic := msg.Topic()
	payload := msg.Payload()
	slog.Debug("message received", "topic", topic, "bytes", len(payload))

	env, err := message.NewEnvelope(topic, payload)
	if err != nil {
		b.stats.decodeErrors.Add(1)
		slog.Error("failed to parse JSON payload", "topic", topic, "error", err)
		return
	}
	if !b.queue.Offer(env) {
		slog.Error("work queue full, dropping message", "node_id", env.NodeID, "topic", topic)
	}
}

// workerLoop drains the queue until its context is cancelled. Envelopes are
// processed strictly in arrival order.
func (b *Bridge) workerLoop(ctx context.Context) {
	for {
		env, ok := b.queue.Take(ctx)
		if !ok {
			return
		}
		// The stop signal is advisory: an in-flight forward finishes or
		// times out on its own, and shutdown's bounded join is the
		// backstop. Hence Background, not the worker context.
		b.process(context.Background(), env)
	}
}

// process dispatches one envelope. A single bad message must never stop
// the pipeline: panics are recovered and logged with the offending node.
func (b *Bridge) process(ctx context.Context, env *message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("unexpected error processing message",
				"node_id", env.NodeID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	slog.Info("processing message", "node_id", env.NodeID, "topic", env.Topic, "kind", env.Kind)

	switch env.Kind {
	case message.KindControl:
		b.forwardControl(ctx, env)
	case message.KindGateway:
		b.forwardGatewayReport(ctx, env)
	default:
		b.forwardSensorReading(ctx, env)
	}
}

// forwardControl relays the original payload unmodified to the control
// response endpoint.
func (b *Bridge) forwardControl(ctx context.Context, env *message.Envelope) {
	b.logResult(env.NodeID, b.fwd.Post(ctx, b.controlURL, env.Raw))
}

// forwardGatewayReport sends the gateway's identity in the fixed shape the
// collection server expects.
func (b *Bridge) forwardGatewayReport(ctx context.Context, env *message.Envelope) {
	nodes := float64(0)
	if n, ok := env.Object["nodes"].(float64); ok {
		nodes = n
	}
	payload := map[string]any{
		"nodeId":    "gateway",
		"ip":        env.Object["ip"],
		"nodes":     nodes,
		"timestamp": b.now(),
	}
	b.logResult(env.NodeID, b.fwd.Post(ctx, b.cfg.Server.URL, payload))
}

// forwardSensorReading merges the partial reading and forwards the node's
// full aggregate.
func (b *Bridge) forwardSensorReading(ctx context.Context, env *message.Envelope) {
	b.store.Merge(env.NodeID, env.Object)
	snapshot := b.store.Snapshot(env.NodeID, b.now())
	b.logResult(env.NodeID, b.fwd.Post(ctx, b.cfg.Server.URL, snapshot))
}

// logResult records the forward outcome. Delivery failures are never fatal
// to the worker; they are logged and the next envelope is processed.
func (b *Bridge) logResult(nodeID string, res forward.Result) {
	if res.OK() {
		b.stats.forwarded.Add(1)
		slog.Info("server accepted data", "node_id", nodeID, "status", res.StatusCode, "attempts", res.Attempts)
		return
	}
	b.stats.forwardFailures.Add(1)
	if res.Err != nil {
		slog.Warn("forward failed", "node_id", nodeID, "error", res.Err, "attempts", res.Attempts)
		return
	}
	slog.Warn("server rejected data", "node_id", nodeID, "status", res.StatusCode, "body", res.Body)
}
