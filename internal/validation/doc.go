// Package validation runs the test command and classifies what it printed.
//
// # Overview
//
// Two pieces live here:
//
//   - Executor runs the configured command through "sh -c" with a deadline and
//     returns a fresh models.ValidationResult for every invocation.
//   - Classifier is a pure function over stdout and stderr. It counts lines
//     carrying a failure marker, reads pass and warning counts from the pytest
//     summary line, and extracts missing module names from import errors.
//
// # Failure kinds
//
// The executor separates three outcomes that must never be confused:
//
//   - a test failure, reported through ExitCode and ErrorCount with a nil error
//   - a command the shell could not launch (exit 126/127 or a start error),
//     reported as errkind.LaunchFailed
//   - a deadline, reported as errkind.Timeout with the partial output attached
//
// # Usage
//
//	classifier := validation.NewClassifier()
//	executor := validation.NewExecutor(exec.NewRunner(), classifier, 10*time.Minute, logger)
//
//	result, err := executor.Run(ctx, "python -m pytest tests/test_imports.py -vv", repoPath)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.ErrorCount, result.MissingDependencies)
package validation
