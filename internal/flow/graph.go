// Package flow interprets dynamically-authored conversation graphs.
package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeType discriminates the flow node variants.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeMessage  NodeType = "message"
	NodeQuestion NodeType = "question"
	NodeAction   NodeType = "action"
	NodeEnd      NodeType = "end"
)

// ActionKind discriminates action node sub-types.
type ActionKind string

const (
	ActionHandoff ActionKind = "transfer_human"
	ActionCollect ActionKind = "collect_input"
	ActionAPICall ActionKind = "api_call"
)

// APICallMode selects the external call pattern for api_call actions.
type APICallMode string

const (
	ModeFetchOptions APICallMode = "fetch_options"
	ModeCreateTicket APICallMode = "create_ticket"
)

// Node is the tagged variant over flow node kinds.
type Node interface {
	NodeID() string
	Type() NodeType
}

// StartNode emits a greeting and auto-advances.
type StartNode struct {
	ID   string
	Text string
}

// MessageNode emits text and auto-advances.
type MessageNode struct {
	ID   string
	Text string
}

// QuestionNode emits a prompt with numbered options and suspends awaiting a
// numeric choice. Field, when set, stores the chosen option text under that
// key. BranchOverrides maps a 1-based option index to an explicit target node
// for branches that neither labels nor positional order can express.
type QuestionNode struct {
	ID              string
	Prompt          string
	Options         []string
	Field           string
	BranchOverrides map[int]string
}

// ActionNode performs a side effect: human handoff, free-text collection, or
// an external API call.
type ActionNode struct {
	ID         string
	Kind       ActionKind
	Field      string
	Prompt     string
	Mode       APICallMode
	URL        string
	TargetNode string
	HoldText   string
}

// EndNode emits closing text and resets the flow.
type EndNode struct {
	ID   string
	Text string
}

func (n *StartNode) NodeID() string    { return n.ID }
func (n *StartNode) Type() NodeType    { return NodeStart }
func (n *MessageNode) NodeID() string  { return n.ID }
func (n *MessageNode) Type() NodeType  { return NodeMessage }
func (n *QuestionNode) NodeID() string { return n.ID }
func (n *QuestionNode) Type() NodeType { return NodeQuestion }
func (n *ActionNode) NodeID() string   { return n.ID }
func (n *ActionNode) Type() NodeType   { return NodeAction }
func (n *EndNode) NodeID() string      { return n.ID }
func (n *EndNode) Type() NodeType      { return NodeEnd }

// Edge is a directed transition with an optional option label.
type Edge struct {
	Target string
	Label  string
}

// Graph is a parsed, validated flow definition.
type Graph struct {
	ID      string
	Version int
	nodes   map[string]Node
	edges   map[string][]Edge
	startID string
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edges returns the outgoing edges of a node in definition order.
func (g *Graph) Edges(id string) []Edge {
	return g.edges[id]
}

// Start returns the start node id.
func (g *Graph) Start() string {
	return g.startID
}

// Size returns the node count; used to bound auto-advance against malformed
// cycles.
func (g *Graph) Size() int {
	return len(g.nodes)
}

type rawDefinition struct {
	Nodes []rawNode `json:"nodes"`
	Edges []rawEdge `json:"edges"`
}

type rawNode struct {
	ID      string     `json:"id"`
	Type    string     `json:"type"`
	Payload rawPayload `json:"payload"`
}

type rawPayload struct {
	Text            string            `json:"text"`
	Options         []string          `json:"options"`
	Field           string            `json:"field"`
	BranchOverrides map[string]string `json:"branch_overrides"`
	Action          string            `json:"action"`
	Mode            string            `json:"mode"`
	URL             string            `json:"url"`
	TargetNode      string            `json:"target_node"`
	HoldText        string            `json:"hold_text"`
}

type rawEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// ParseDefinition parses and validates a JSON flow definition.
func ParseDefinition(definition []byte) (*Graph, error) {
	var raw rawDefinition
	if err := json.Unmarshal(definition, &raw); err != nil {
		return nil, fmt.Errorf("parse flow definition: %w", err)
	}
	if len(raw.Nodes) == 0 {
		return nil, fmt.Errorf("flow definition has no nodes")
	}

	g := &Graph{
		nodes: make(map[string]Node, len(raw.Nodes)),
		edges: make(map[string][]Edge),
	}
	for _, rn := range raw.Nodes {
		id := strings.TrimSpace(rn.ID)
		if id == "" {
			return nil, fmt.Errorf("flow node missing id")
		}
		if _, dup := g.nodes[id]; dup {
			return nil, fmt.Errorf("duplicate flow node id %q", id)
		}
		node, err := buildNode(id, rn)
		if err != nil {
			return nil, err
		}
		g.nodes[id] = node
		if node.Type() == NodeStart {
			if g.startID != "" {
				return nil, fmt.Errorf("flow has more than one start node")
			}
			g.startID = id
		}
	}
	if g.startID == "" {
		return nil, fmt.Errorf("flow has no start node")
	}

	for _, re := range raw.Edges {
		source := strings.TrimSpace(re.Source)
		target := strings.TrimSpace(re.Target)
		if _, ok := g.nodes[source]; !ok {
			return nil, fmt.Errorf("edge source %q is not a node", source)
		}
		if _, ok := g.nodes[target]; !ok {
			return nil, fmt.Errorf("edge target %q is not a node", target)
		}
		g.edges[source] = append(g.edges[source], Edge{Target: target, Label: strings.TrimSpace(re.Label)})
	}
	return g, nil
}

func buildNode(id string, rn rawNode) (Node, error) {
	switch NodeType(strings.ToLower(strings.TrimSpace(rn.Type))) {
	case NodeStart:
		return &StartNode{ID: id, Text: rn.Payload.Text}, nil
	case NodeMessage:
		return &MessageNode{ID: id, Text: rn.Payload.Text}, nil
	case NodeQuestion:
		overrides, err := parseOverrides(rn.Payload.BranchOverrides)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", id, err)
		}
		return &QuestionNode{
			ID:              id,
			Prompt:          rn.Payload.Text,
			Options:         rn.Payload.Options,
			Field:           strings.TrimSpace(rn.Payload.Field),
			BranchOverrides: overrides,
		}, nil
	case NodeAction:
		kind := ActionKind(strings.ToLower(strings.TrimSpace(rn.Payload.Action)))
		switch kind {
		case ActionHandoff, ActionCollect, ActionAPICall:
		default:
			return nil, fmt.Errorf("node %q: unknown action kind %q", id, rn.Payload.Action)
		}
		return &ActionNode{
			ID:         id,
			Kind:       kind,
			Field:      strings.TrimSpace(rn.Payload.Field),
			Prompt:     rn.Payload.Text,
			Mode:       APICallMode(strings.ToLower(strings.TrimSpace(rn.Payload.Mode))),
			URL:        strings.TrimSpace(rn.Payload.URL),
			TargetNode: strings.TrimSpace(rn.Payload.TargetNode),
			HoldText:   rn.Payload.HoldText,
		}, nil
	case NodeEnd:
		return &EndNode{ID: id, Text: rn.Payload.Text}, nil
	default:
		return nil, fmt.Errorf("node %q: unknown node type %q", id, rn.Type)
	}
}

func parseOverrides(raw map[string]string) (map[int]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	overrides := make(map[int]string, len(raw))
	for key, target := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || idx < 1 {
			return nil, fmt.Errorf("invalid branch override index %q", key)
		}
		overrides[idx] = strings.TrimSpace(target)
	}
	return overrides, nil
}
