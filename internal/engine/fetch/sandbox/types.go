package sandbox

import (
	"context"
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Execution timeout
	MaxCallStackSize int           // Zero leaves the goja default
	EnableConsole    bool          // Allow console.log/warn/error
	EnableDOM        bool          // Expose document and window
	AcquireWait      time.Duration // Pool wait for an idle runtime, zero uses DefaultAcquireWait
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Exported return value
	JSON     string        // Value encoded as JSON, "null" for undefined
	Console  []LogEntry    // Console output
	Changes  []DOMChange   // DOM modifications made by the script
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// DOMChange represents a DOM modification
type DOMChange struct {
	Type  string `json:"type"` // remove, pause, set_attribute, stop
	Tag   string `json:"tag,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Sandbox defines the JavaScript execution interface
type Sandbox interface {
	Execute(ctx context.Context, script string, dom *DOM) (*Result, error)
	Reset() error
	Close() error
}

// DefaultConfig returns the settings used for page scripts.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		EnableDOM:        true,
	}
}
