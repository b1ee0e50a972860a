package consts

import "time"

// Energy model defaults
const (
	// DefaultAlpha weights the syntactic energy component
	DefaultAlpha = 1.0
	// DefaultBeta weights the structural energy component
	DefaultBeta = 0.5
	// DefaultGamma weights the logical energy component
	DefaultGamma = 2.0
	// DefaultStabilityThreshold is the energy level at or below which a node commits
	DefaultStabilityThreshold = 0.1
)

// Loop limits
const (
	// DefaultMaxRetries is the speculation retry budget per plan node
	DefaultMaxRetries = 3
	// DefaultMaxSteps bounds the total orchestrator iterations per session
	DefaultMaxSteps = 100
	// DefaultMaxPlanParseAttempts bounds re-asks when a plan response fails to parse
	DefaultMaxPlanParseAttempts = 2
)

// Budget defaults
const (
	// DefaultMaxCostUSD is the default spend ceiling per session
	DefaultMaxCostUSD = 5.0
	// DefaultSpeculateCostFraction gates Speculator pre-checks: an Actuator
	// call estimated above this fraction of the remaining budget is
	// speculated first
	DefaultSpeculateCostFraction = 0.05
)

// Sandbox limits
const (
	// DefaultCommandTimeout is the wall-clock limit for sandboxed commands
	DefaultCommandTimeout = 2 * time.Minute
	// DefaultTestTimeout is the wall-clock limit for verification test runs
	DefaultTestTimeout = 5 * time.Minute
	// DefaultOutputLimit caps captured stdout/stderr per command
	DefaultOutputLimit = 256 * 1024
)

// Buffer sizes
const (
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
	// MaxFileReadSize caps single file reads handed to the model
	MaxFileReadSize = 10 * 1024 * 1024
)

// LLM defaults
const (
	// DefaultMaxTokens is the default maximum tokens for LLM responses
	DefaultMaxTokens = 8192
	// DefaultLLMTimeout bounds a single completion call
	DefaultLLMTimeout = 5 * time.Minute
)

// Retriever limits
const (
	// MaxSearchResults caps snippet matches returned per search
	MaxSearchResults = 50
	// MaxSnippetLines is the number of context lines kept around a match
	MaxSnippetLines = 8
)

// Control surface timeouts
const (
	// SocketDialTimeout bounds connecting to the control socket
	SocketDialTimeout = 2 * time.Second
	// SocketRequestTimeout bounds a single control request round-trip
	SocketRequestTimeout = 10 * time.Second
)
