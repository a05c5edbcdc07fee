package catalog

import "encoding/json"

// Definition is the canonical description of a webhook event type.
// Definitions are persisted so the set of event types a tenant can subscribe
// to is dynamic: registered at boot or through the admin API.
type Definition struct {
	// Name is the dot-separated event type name.
	// Convention: "<resource>.<action>" — e.g. "invoice.paid", "expense.approved".
	Name string `json:"name"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types in docs/UI.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema describing the payload shape.
	// When set, Dispatch validates the event data against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// SchemaVersion tracks changes to the Schema itself.
	SchemaVersion string `json:"schema_version,omitempty"`

	// Version is the API version of this event type.
	// Convention: date-based, e.g. "2025-01-01".
	Version string `json:"version"`

	// Example is an optional example payload for documentation and test
	// deliveries.
	Example json.RawMessage `json:"example,omitempty"`
}
