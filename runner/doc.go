// Package runner executes compat suites on JavaScript platforms.
//
// The main components are:
//   - Executor: runs one suite file on a platform and reports its outcomes.
//     ExecExecutor spawns a runtime process (node, deno, bun) with a test
//     shim; BundlingExecutor bundles the suite with a Builder and runs it
//     in a headless browser page.
//   - PageServer: serves harness pages and bundled assets to the browser.
//   - ToSuiteResult: folds the outcomes of one suite into a SuiteResult,
//     applying the NOTE conventions.
//   - Runner: drives an executor over a list of suites.
//
// Shims print one JSON line per test: {"description": ..., "error": null |
// {"message": ..., "stack": ...}}. Browser pages print a final "<done>".
package runner
