// Package engine provides the dependency-aware graph execution engine and
// the service that runs it asynchronously. GraphExecutor schedules one
// future per node, prunes untaken branches by marking their nodes skipped
// and dispatches the remaining nodes onto a bounded worker pool. Engine
// wraps it with persistence, live event streaming and run cancellation.
package engine
