package flow

import "encoding/json"

// StateVersion is the current schema version of the persisted flow state.
// States written under an older version are reset rather than interpreted.
const StateVersion = 1

// MetadataKey is where the flow state lives inside conversation metadata.
const MetadataKey = "flow_state"

// State is the versioned per-conversation flow position, persisted in the
// conversation metadata and round-tripped every turn.
type State struct {
	Version        int               `json:"version"`
	FlowID         string            `json:"flow_id,omitempty"`
	FlowVersion    int               `json:"flow_version,omitempty"`
	CurrentNodeID  string            `json:"current_node_id,omitempty"`
	Collected      map[string]string `json:"collected,omitempty"`
	WaitingField   string            `json:"waiting_field,omitempty"`
	PendingOptions []string          `json:"pending_options,omitempty"`
}

// StateFromMetadata extracts the flow state from a conversation metadata map.
// Anything unreadable yields a zero state, which the engine treats as fresh.
func StateFromMetadata(meta map[string]any) State {
	raw, ok := meta[MetadataKey]
	if !ok {
		return State{}
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return State{}
	}
	var state State
	if err := json.Unmarshal(encoded, &state); err != nil {
		return State{}
	}
	return state
}

// Embed writes the state back into a conversation metadata map, returning the
// (possibly newly allocated) map.
func (st State) Embed(meta map[string]any) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	encoded, err := json.Marshal(st)
	if err != nil {
		return meta
	}
	var plain map[string]any
	if err := json.Unmarshal(encoded, &plain); err != nil {
		return meta
	}
	meta[MetadataKey] = plain
	return meta
}

// collected returns a non-nil copy-safe map for mutation.
func (st *State) collected() map[string]string {
	if st.Collected == nil {
		st.Collected = map[string]string{}
	}
	return st.Collected
}
