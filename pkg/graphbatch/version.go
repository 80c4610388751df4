package graphbatch

// Version information for the graphbatch service module.
const (
	// Version is the current version of the graphbatch service module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
