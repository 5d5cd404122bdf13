package tools

import "fmt"

// Result is the unified return type from tool execution.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ForLLM renders the result as the tool message content fed back to
// the model.
func (r *Result) ForLLM() string {
	if !r.Success && r.Error != "" {
		return "Error: " + r.Error
	}
	if r.Output == "" {
		return "(no output)"
	}
	return r.Output
}

// Ok returns a successful result.
func Ok(output string) *Result {
	return &Result{Success: true, Output: output}
}

// Okf returns a successful result with formatted output.
func Okf(format string, args ...interface{}) *Result {
	return Ok(fmt.Sprintf(format, args...))
}

// Errf returns a failed result with a formatted error message.
func Errf(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}
