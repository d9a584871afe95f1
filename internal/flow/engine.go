package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Default texts emitted by the engine when a node does not override them.
const (
	defaultHoldText = "One moment, we are transferring you to one of our agents."
	restartNotice   = "We had to restart our conversation. Let's begin again."
)

// CallRequest suspends the flow pending an external call.
type CallRequest struct {
	NodeID     string
	Mode       APICallMode
	URL        string
	TargetNode string
	Fields     map[string]string
}

// CallResult is the outcome of an external call, fed back through Resume.
type CallResult struct {
	Options   []string
	Reference string
	Failed    bool
}

// Result is the outcome of one engine turn.
type Result struct {
	Reply        string
	State        State
	Handoff      bool
	ExternalCall *CallRequest
	Ended        bool
}

// Engine interprets a flow graph over persisted conversation state. It holds
// no mutable state of its own; every turn is a pure function of (graph,
// state, input) except for the external calls it delegates via CallRequest.
type Engine struct {
	graph      *Graph
	resetToken string
}

// NewEngine creates an engine for one graph. resetToken is matched
// case-insensitively as the escape hatch from any state.
func NewEngine(graph *Graph, resetToken string) *Engine {
	if strings.TrimSpace(resetToken) == "" {
		resetToken = "reset"
	}
	return &Engine{graph: graph, resetToken: resetToken}
}

// Step runs one turn given the persisted state and the new input.
func (e *Engine) Step(state State, input string) Result {
	input = strings.TrimSpace(input)

	if e.isReset(input) {
		return e.runFrom(e.fresh(), e.graph.Start(), nil)
	}

	state, stale := e.reconcile(state)
	if stale {
		return e.runFrom(e.fresh(), e.graph.Start(), []string{restartNotice})
	}

	if state.CurrentNodeID == "" {
		return e.runFrom(e.fresh(), e.graph.Start(), nil)
	}

	if state.WaitingField != "" {
		state.collected()[state.WaitingField] = input
		state.WaitingField = ""
		next, ok := e.singleEdge(state.CurrentNodeID)
		if !ok {
			return e.runFrom(e.fresh(), e.graph.Start(), []string{restartNotice})
		}
		return e.runFrom(state, next, nil)
	}

	node, _ := e.graph.Node(state.CurrentNodeID)
	if question, ok := node.(*QuestionNode); ok {
		return e.answerQuestion(state, question, input)
	}

	return e.runFrom(state, state.CurrentNodeID, nil)
}

// Resume feeds an external call result back into the suspended flow.
func (e *Engine) Resume(state State, call CallResult) Result {
	node, ok := e.graph.Node(state.CurrentNodeID)
	action, isAction := node.(*ActionNode)
	if !ok || !isAction || action.Kind != ActionAPICall {
		return e.runFrom(e.fresh(), e.graph.Start(), []string{restartNotice})
	}

	if call.Failed {
		reply := fmt.Sprintf(
			"Sorry, we could not complete your request right now. Type %q to start over.",
			e.resetToken,
		)
		return Result{Reply: reply, State: e.fresh()}
	}

	switch action.Mode {
	case ModeFetchOptions:
		state.PendingOptions = call.Options
		target := action.TargetNode
		if target == "" {
			if next, ok := e.singleEdge(action.ID); ok {
				target = next
			}
		}
		return e.runFrom(state, target, nil)
	case ModeCreateTicket:
		state.collected()["ticket_ref"] = call.Reference
		next, ok := e.singleEdge(action.ID)
		if !ok {
			reply := fmt.Sprintf("Your request was registered under reference %s.", call.Reference)
			return Result{Reply: reply, State: e.fresh(), Ended: true}
		}
		return e.runFrom(state, next, nil)
	default:
		return e.runFrom(e.fresh(), e.graph.Start(), []string{restartNotice})
	}
}

// answerQuestion interprets input as a 1-based option index. Invalid input
// re-emits the prompt with state unchanged.
func (e *Engine) answerQuestion(state State, question *QuestionNode, input string) Result {
	options := question.Options
	if len(state.PendingOptions) > 0 {
		options = state.PendingOptions
	}

	idx, err := strconv.Atoi(input)
	if err != nil || idx < 1 || idx > len(options) {
		return Result{
			Reply: renderQuestion(question, options, state.Collected),
			State: state,
		}
	}
	chosen := options[idx-1]

	target := e.branchTarget(question, options, idx)
	if target == "" {
		return Result{
			Reply: renderQuestion(question, options, state.Collected),
			State: state,
		}
	}

	if question.Field != "" {
		state.collected()[question.Field] = chosen
	}
	state.PendingOptions = nil
	return e.runFrom(state, target, nil)
}

// branchTarget resolves the edge for a chosen option: per-node override
// first, then explicit label match, then positional order, then a sole edge.
func (e *Engine) branchTarget(question *QuestionNode, options []string, idx int) string {
	if target, ok := question.BranchOverrides[idx]; ok {
		return target
	}
	edges := e.graph.Edges(question.ID)
	chosen := strings.ToLower(strings.TrimSpace(options[idx-1]))
	for _, edge := range edges {
		if edge.Label != "" && strings.ToLower(edge.Label) == chosen {
			return edge.Target
		}
	}
	if idx <= len(edges) {
		return edges[idx-1].Target
	}
	if len(edges) == 1 {
		return edges[0].Target
	}
	return ""
}

// runFrom advances node-by-node, accumulating output, until the flow
// suspends, ends, or needs an external call. The walk is bounded by graph
// size to guard against malformed cycles. Consecutive emitting nodes fuse
// into a single outbound message, which also covers a start node whose sole
// successor is a question.
func (e *Engine) runFrom(state State, nodeID string, parts []string) Result {
	for steps := 0; steps <= e.graph.Size(); steps++ {
		node, ok := e.graph.Node(nodeID)
		if !ok {
			state = e.fresh()
			nodeID = e.graph.Start()
			parts = append(parts, restartNotice)
			continue
		}

		switch n := node.(type) {
		case *StartNode:
			if n.Text != "" {
				parts = append(parts, substitute(n.Text, state.Collected))
			}
			next, ok := e.singleEdge(n.ID)
			if !ok {
				state.CurrentNodeID = n.ID
				return Result{Reply: joinParts(parts), State: state}
			}
			nodeID = next

		case *MessageNode:
			if n.Text != "" {
				parts = append(parts, substitute(n.Text, state.Collected))
			}
			next, ok := e.singleEdge(n.ID)
			if !ok {
				state.CurrentNodeID = n.ID
				return Result{Reply: joinParts(parts), State: state}
			}
			nodeID = next

		case *QuestionNode:
			options := n.Options
			if len(state.PendingOptions) > 0 {
				options = state.PendingOptions
			}
			parts = append(parts, renderQuestion(n, options, state.Collected))
			state.CurrentNodeID = n.ID
			return Result{Reply: joinParts(parts), State: state}

		case *ActionNode:
			switch n.Kind {
			case ActionHandoff:
				text := n.HoldText
				if text == "" {
					text = defaultHoldText
				}
				parts = append(parts, substitute(text, state.Collected))
				state.CurrentNodeID = n.ID
				return Result{Reply: joinParts(parts), State: state, Handoff: true}
			case ActionCollect:
				if n.Prompt != "" {
					parts = append(parts, substitute(n.Prompt, state.Collected))
				}
				state.CurrentNodeID = n.ID
				state.WaitingField = n.Field
				return Result{Reply: joinParts(parts), State: state}
			case ActionAPICall:
				state.CurrentNodeID = n.ID
				fields := make(map[string]string, len(state.Collected))
				for k, v := range state.Collected {
					fields[k] = v
				}
				return Result{
					Reply: joinParts(parts),
					State: state,
					ExternalCall: &CallRequest{
						NodeID:     n.ID,
						Mode:       n.Mode,
						URL:        n.URL,
						TargetNode: n.TargetNode,
						Fields:     fields,
					},
				}
			}

		case *EndNode:
			if n.Text != "" {
				parts = append(parts, substitute(n.Text, state.Collected))
			}
			return Result{Reply: joinParts(parts), State: e.fresh(), Ended: true}
		}
	}

	// Auto-advance exhausted the bound: the graph has a cycle of
	// non-suspending nodes. Reset rather than loop forever.
	return Result{Reply: joinParts(append(parts, restartNotice)), State: e.fresh()}
}

// reconcile validates persisted state against the loaded graph. State written
// under another schema version, another flow version, or pointing at a node
// that no longer exists is reported stale.
func (e *Engine) reconcile(state State) (State, bool) {
	if state.CurrentNodeID == "" && state.FlowVersion == 0 {
		return state, false
	}
	if state.Version != StateVersion {
		return state, true
	}
	if state.FlowVersion != e.graph.Version {
		return state, true
	}
	if state.CurrentNodeID != "" {
		if _, ok := e.graph.Node(state.CurrentNodeID); !ok {
			return state, true
		}
	}
	return state, false
}

func (e *Engine) fresh() State {
	return State{
		Version:     StateVersion,
		FlowID:      e.graph.ID,
		FlowVersion: e.graph.Version,
	}
}

func (e *Engine) isReset(input string) bool {
	return strings.EqualFold(input, e.resetToken)
}

func (e *Engine) singleEdge(nodeID string) (string, bool) {
	edges := e.graph.Edges(nodeID)
	if len(edges) == 0 {
		return "", false
	}
	return edges[0].Target, true
}

func renderQuestion(question *QuestionNode, options []string, collected map[string]string) string {
	var b strings.Builder
	b.WriteString(substitute(question.Prompt, collected))
	for i, option := range options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(option)
	}
	return b.String()
}

// substitute replaces {{key}} placeholders with collected values.
func substitute(text string, collected map[string]string) string {
	if len(collected) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	for key, value := range collected {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}

func joinParts(parts []string) string {
	filtered := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			filtered = append(filtered, p)
		}
	}
	return strings.Join(filtered, "\n\n")
}
