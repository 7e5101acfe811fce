// Package orchestrator runs the verification cycle for one task against one
// repository checkout.
//
// A cycle runs strictly in order:
//   - Credential check: agent strategies resolve the reasoning-service key first
//   - Pre-validation: run the tests through the remediation engine
//   - Strategy: apply the structural patch, run the tool-dispatch loop, both, or neither
//   - Post-validation: run the tests through the remediation engine again
//   - Diff and verdict: compare the tree against the HEAD captured at start
//
// The verdict is derived only from the pre and post error counts the cycle
// observed itself, never from a strategy's own report.
//
// Example usage:
//
//	cycle := orchestrator.NewCycle(orchestrator.RequiredConfig{
//		RepoPath: repo,
//		Command:  "python -m pytest tests -vv",
//		Strategy: models.StrategyPatch,
//	}, orchestrator.WithLogger(logger), orchestrator.WithReporter(reporter))
//	rep, err := cycle.Run(ctx)
package orchestrator
