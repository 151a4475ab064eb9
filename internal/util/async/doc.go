// Package async runs independent tasks concurrently.
//
// [RunParallel] starts every task at once. [RunBounded] caps concurrency and
// stops launching new tasks after the first failure, reporting which tasks
// never started so callers can list them as not attempted.
package async
