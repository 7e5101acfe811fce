// Package protect decides which repository paths the agent's file tools may
// not modify.
package protect

// DefaultPatterns protects version control metadata and the run's own
// artifacts and signal files.
var DefaultPatterns = []string{
	".git/**",
	".verifix/**",
}
