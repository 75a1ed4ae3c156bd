package ir

// Version constants for the record schema and the coordinator.
const (
	// RecordVersion is the schema version stamped on persisted records.
	RecordVersion = "1"

	// EngineVersion is the sweep coordinator version.
	EngineVersion = "0.1.0"
)
