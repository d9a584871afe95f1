package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const supportDefinition = `{
	"nodes": [
		{"id": "start", "type": "start", "payload": {"text": "Welcome to support."}},
		{"id": "q1", "type": "question", "payload": {
			"text": "How can we help?",
			"options": ["Open a ticket", "Talk to a human"],
			"field": "intent"
		}},
		{"id": "ask_desc", "type": "action", "payload": {
			"action": "collect_input", "field": "description", "text": "Describe your issue."
		}},
		{"id": "create", "type": "action", "payload": {
			"action": "api_call", "mode": "create_ticket", "url": "https://tickets.example/create"
		}},
		{"id": "done", "type": "end", "payload": {"text": "Ticket {{ticket_ref}} created. Goodbye."}},
		{"id": "human", "type": "action", "payload": {
			"action": "transfer_human", "hold_text": "Hold on."
		}}
	],
	"edges": [
		{"source": "start", "target": "q1"},
		{"source": "q1", "target": "ask_desc", "label": "Open a ticket"},
		{"source": "q1", "target": "human", "label": "Talk to a human"},
		{"source": "ask_desc", "target": "create"},
		{"source": "create", "target": "done"}
	]
}`

func supportGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := ParseDefinition([]byte(supportDefinition))
	require.NoError(t, err)
	return graph
}

func TestEngine_FreshRunFusesStartAndQuestion(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")

	result := engine.Step(State{}, "hi")

	require.Equal(t,
		"Welcome to support.\n\nHow can we help?\n1. Open a ticket\n2. Talk to a human",
		result.Reply,
	)
	require.Equal(t, "q1", result.State.CurrentNodeID)
	require.False(t, result.Handoff)
	require.Nil(t, result.ExternalCall)
}

func TestEngine_FreshRunIsDeterministic(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")

	first := engine.Step(State{}, "hello")
	second := engine.Step(State{}, "anything else entirely")

	require.Equal(t, first.Reply, second.Reply)
	require.Equal(t, first.State, second.State)
}

func TestEngine_InvalidOptionRerendersPrompt(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State

	for _, input := range []string{"0", "3", "maybe", ""} {
		result := engine.Step(state, input)
		require.Contains(t, result.Reply, "How can we help?", "input %q", input)
		require.Equal(t, "q1", result.State.CurrentNodeID, "input %q", input)
		require.Empty(t, result.State.Collected, "input %q", input)
	}
}

func TestEngine_OptionBranchesByLabelAndStoresField(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State

	result := engine.Step(state, "1")

	require.Equal(t, "Describe your issue.", result.Reply)
	require.Equal(t, "ask_desc", result.State.CurrentNodeID)
	require.Equal(t, "description", result.State.WaitingField)
	require.Equal(t, "Open a ticket", result.State.Collected["intent"])
}

func TestEngine_HandoffBranch(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State

	result := engine.Step(state, "2")

	require.True(t, result.Handoff)
	require.Equal(t, "Hold on.", result.Reply)
	require.Equal(t, "human", result.State.CurrentNodeID)
}

func TestEngine_CollectedInputFlowsIntoExternalCall(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State
	state = engine.Step(state, "1").State

	result := engine.Step(state, "My printer is on fire")

	require.NotNil(t, result.ExternalCall)
	require.Equal(t, ModeCreateTicket, result.ExternalCall.Mode)
	require.Equal(t, "https://tickets.example/create", result.ExternalCall.URL)
	require.Equal(t, "My printer is on fire", result.ExternalCall.Fields["description"])
	require.Equal(t, "Open a ticket", result.ExternalCall.Fields["intent"])
	require.Empty(t, result.State.WaitingField)
}

func TestEngine_ResumeCreateTicketSubstitutesReference(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State
	state = engine.Step(state, "1").State
	suspended := engine.Step(state, "broken")

	result := engine.Resume(suspended.State, CallResult{Reference: "T-42"})

	require.Equal(t, "Ticket T-42 created. Goodbye.", result.Reply)
	require.True(t, result.Ended)
	require.Empty(t, result.State.CurrentNodeID)
	require.Empty(t, result.State.Collected)
}

func TestEngine_ResumeFailureApologizesAndResets(t *testing.T) {
	engine := NewEngine(supportGraph(t), "restart")
	state := engine.Step(State{}, "hi").State
	state = engine.Step(state, "1").State
	suspended := engine.Step(state, "broken")

	result := engine.Resume(suspended.State, CallResult{Failed: true})

	require.Contains(t, result.Reply, `"restart"`)
	require.Empty(t, result.State.CurrentNodeID)
	require.False(t, result.Ended)
}

func TestEngine_ResetTokenEscapesAnyState(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")
	state := engine.Step(State{}, "hi").State
	state = engine.Step(state, "1").State
	require.Equal(t, "description", state.WaitingField)

	result := engine.Step(state, "ReSeT")

	require.Equal(t, "q1", result.State.CurrentNodeID)
	require.Empty(t, result.State.WaitingField)
	require.Empty(t, result.State.Collected)
	require.True(t, strings.HasPrefix(result.Reply, "Welcome to support."))
}

func TestEngine_StaleFlowVersionRestartsWithNotice(t *testing.T) {
	graph := supportGraph(t)
	graph.Version = 3
	engine := NewEngine(graph, "reset")

	stale := State{Version: StateVersion, FlowVersion: 2, CurrentNodeID: "q1"}
	result := engine.Step(stale, "1")

	require.True(t, strings.HasPrefix(result.Reply, "We had to restart"))
	require.Contains(t, result.Reply, "Welcome to support.")
	require.Equal(t, 3, result.State.FlowVersion)
}

func TestEngine_MissingNodeRestartsWithNotice(t *testing.T) {
	engine := NewEngine(supportGraph(t), "reset")

	stale := State{Version: StateVersion, CurrentNodeID: "deleted-node"}
	result := engine.Step(stale, "hello")

	require.True(t, strings.HasPrefix(result.Reply, "We had to restart"))
	require.Equal(t, "q1", result.State.CurrentNodeID)
}

func TestEngine_FetchedOptionsDriveQuestion(t *testing.T) {
	definition := `{
		"nodes": [
			{"id": "start", "type": "start", "payload": {}},
			{"id": "fetch", "type": "action", "payload": {
				"action": "api_call", "mode": "fetch_options", "target_node": "dept"
			}},
			{"id": "dept", "type": "question", "payload": {"text": "Pick a department.", "field": "dept"}},
			{"id": "done", "type": "end", "payload": {"text": "Routed to {{dept}}."}}
		],
		"edges": [
			{"source": "start", "target": "fetch"},
			{"source": "dept", "target": "done"}
		]
	}`
	graph, err := ParseDefinition([]byte(definition))
	require.NoError(t, err)
	engine := NewEngine(graph, "reset")

	suspended := engine.Step(State{}, "hi")
	require.NotNil(t, suspended.ExternalCall)
	require.Equal(t, ModeFetchOptions, suspended.ExternalCall.Mode)

	rendered := engine.Resume(suspended.State, CallResult{Options: []string{"Billing", "Returns"}})
	require.Equal(t, "Pick a department.\n1. Billing\n2. Returns", rendered.Reply)
	require.Equal(t, []string{"Billing", "Returns"}, rendered.State.PendingOptions)

	chosen := engine.Step(rendered.State, "2")
	require.Equal(t, "Routed to Returns.", chosen.Reply)
	require.True(t, chosen.Ended)
}

func TestEngine_CycleIsBounded(t *testing.T) {
	definition := `{
		"nodes": [
			{"id": "start", "type": "start", "payload": {"text": "Hi."}},
			{"id": "m1", "type": "message", "payload": {"text": "One."}},
			{"id": "m2", "type": "message", "payload": {"text": "Two."}}
		],
		"edges": [
			{"source": "start", "target": "m1"},
			{"source": "m1", "target": "m2"},
			{"source": "m2", "target": "m1"}
		]
	}`
	graph, err := ParseDefinition([]byte(definition))
	require.NoError(t, err)
	engine := NewEngine(graph, "reset")

	result := engine.Step(State{}, "hi")

	require.Contains(t, result.Reply, "We had to restart")
	require.Empty(t, result.State.CurrentNodeID)
}

func TestEngine_PlaceholderSubstitution(t *testing.T) {
	definition := `{
		"nodes": [
			{"id": "start", "type": "start", "payload": {"text": "Hello."}},
			{"id": "ask", "type": "action", "payload": {
				"action": "collect_input", "field": "name", "text": "Your name?"
			}},
			{"id": "bye", "type": "end", "payload": {"text": "Thanks, {{name}}!"}}
		],
		"edges": [
			{"source": "start", "target": "ask"},
			{"source": "ask", "target": "bye"}
		]
	}`
	graph, err := ParseDefinition([]byte(definition))
	require.NoError(t, err)
	engine := NewEngine(graph, "reset")

	state := engine.Step(State{}, "hi").State
	result := engine.Step(state, "Maria")

	require.Equal(t, "Thanks, Maria!", result.Reply)
	require.True(t, result.Ended)
}
