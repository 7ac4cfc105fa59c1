package tools

const (
	// Search limits
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000

	// run_command timeouts, in seconds
	DefaultTimeout = 60
	MaxTimeout     = 300

	// Output tails
	DefaultOutputLines = 50
	MaxOutputLines     = 5000

	// run_command may wait this long for shell output, in milliseconds
	MaxWaitMs = 10000

	// Terminal size bounds
	MaxCols = 1000
	MaxRows = 500

	MaxTitleLength = 100

	// get_traces
	DefaultTraceLimit = 100
	MaxTraceLimit     = 1000

	// UUID validation pattern
	UUIDPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`
)
