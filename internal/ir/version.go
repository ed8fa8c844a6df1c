package ir

// Version constants for the record format and the engine.
const (
	// RecordVersion is the on-disk feed record schema version.
	RecordVersion = "1"

	// EngineVersion is the regfeed engine version.
	EngineVersion = "0.1.0"
)
