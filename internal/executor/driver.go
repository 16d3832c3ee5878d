// Package executor is the Execution Driver: the component that builds an
// agent prompt, spawns the agent, classifies the outcome, records the
// execution, writes handoff artifacts, and schedules downstream nodes. It
// is the center of gravity the rest of the service hangs off: the queue
// drains into it, the HTTP callbacks write onto the rows it reads back,
// and it is the only caller of the mutation engine.
package executor

import (
	"fmt"
	"log"
	"time"

	"github.com/planexec/executor/internal/agent"
	"github.com/planexec/executor/internal/depend"
	"github.com/planexec/executor/internal/model"
	"github.com/planexec/executor/internal/mutation"
	"github.com/planexec/executor/internal/pending"
	"github.com/planexec/executor/internal/queue"
	"github.com/planexec/executor/internal/store"
)

// Flags are the behavior toggles this expansion's driver carries beyond
// the distilled spec's core flow.
type Flags struct {
	// EnableEchoStrip gates the deprecated stripEchoedPrompt fallback,
	// isolated behind a flag per the open question in the design notes.
	EnableEchoStrip bool
	// SubprocessTimeout bounds one agent invocation's wall clock.
	SubprocessTimeout time.Duration
	// EvaluationGracePeriod bounds how long the driver waits for the
	// evaluation callback before treating a done node as COMPLETE with
	// no mutations.
	EvaluationGracePeriod time.Duration
}

func (f Flags) timeout() time.Duration {
	if f.SubprocessTimeout <= 0 {
		return 30 * time.Minute
	}
	return f.SubprocessTimeout
}

func (f Flags) sessionAliveWindow() time.Duration {
	return 2 * f.timeout()
}

// Notifier signals a human about terminal blocked/failed states. The
// driver never lets a Notifier error affect control flow.
type Notifier interface {
	Notify(title, message string) error
}

// Publisher mirrors queue.Publisher so the driver can emit the same
// lifecycle events onto the event bus.
type Publisher interface {
	Publish(subject string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

type noopNotifier struct{}

func (noopNotifier) Notify(string, string) error { return nil }

// Driver wires together the store, the agent registry, the per-blueprint
// queue, the pending-task registry, the mutation engine, the event bus,
// and the notifier into the `run`/`run-all`/`reevaluate`/`enrich`/`resume`
// task kinds.
type Driver struct {
	Store    *store.Store
	Agents   *agent.Registry
	Queue    *queue.Manager
	Pending  *pending.Registry
	Mutation *mutation.Engine
	Publish  Publisher
	Notify   Notifier
	Flags    Flags

	evaluations *evaluationInbox
}

// New constructs a Driver. publisher and notifier may be nil, in which
// case lifecycle events and desktop notifications are silently dropped.
func New(s *store.Store, agents *agent.Registry, q *queue.Manager, p *pending.Registry, m *mutation.Engine, publisher Publisher, notifier Notifier, flags Flags) *Driver {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Driver{
		Store: s, Agents: agents, Queue: q, Pending: p, Mutation: m,
		Publish: publisher, Notify: notifier, Flags: flags,
		evaluations: newEvaluationInbox(),
	}
}

// RecordEvaluation is called by the HTTP evaluation-callback handler to
// hand off the agent's self-evaluation body to whichever run is waiting
// on it.
func (d *Driver) RecordEvaluation(nodeID string, eval mutation.Evaluation) {
	d.evaluations.Record(nodeID, eval)
}

func (d *Driver) publishNode(blueprintID, nodeID, event string, payload any) {
	d.Publish.Publish(fmt.Sprintf("executor.node.%s.%s", nodeID, event), payload)
}

func (d *Driver) notifyTerminal(node *model.MacroNode, status model.NodeStatus, detail string) {
	if status != model.NodeFailed && status != model.NodeBlocked {
		return
	}
	title := fmt.Sprintf("Node %s %s", node.Title, status)
	if err := d.Notify.Notify(title, detail); err != nil {
		log.Printf("[EXECUTOR] notify failed for node %s: %v", node.ID, err)
	}
}

// lookupFor builds a depend.Lookup against a freshly-loaded blueprint graph.
func (d *Driver) lookupFor(blueprintID string) (depend.Lookup, *model.BlueprintGraph, error) {
	g, err := d.Store.LoadBlueprintGraph(blueprintID)
	if err != nil {
		return nil, nil, fmt.Errorf("load blueprint %s: %w", blueprintID, err)
	}
	return depend.LookupFromGraph(g), g, nil
}

// resolveAgent resolves the agent for a node, falling back to the
// blueprint's agent type when the node has none of its own.
func (d *Driver) resolveAgent(bp *model.Blueprint, n *model.MacroNode) (agent.Agent, error) {
	tag := n.AgentType
	if tag == "" {
		tag = bp.AgentType
	}
	return d.Agents.Resolve(tag)
}
