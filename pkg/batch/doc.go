// Package batch provides a request queue that coalesces individual calls into
// size-bounded batches.
//
// Callers enqueue logical requests one at a time and receive a [Future] for
// each. The queue flushes on a fixed cadence, or immediately once
// [MaxBatchSize] requests are buffered, handing the ordered requests to an
// [Executor] in a single call. Every sub-response settles the future of the
// request at the same position. Failed sub-requests can be retried on a later
// flush according to a retry policy.
//
// # Usage
//
//	q := batch.New[graph.Request](client,
//	    batch.WithDelay(time.Second),
//	    batch.WithRetryTimes(2),
//	)
//	defer q.Stop()
//
//	f := q.Enqueue(req)
//	body, err := f.Wait(ctx)
//
// # Failures
//
// A sub-response with a non-200 code is rejected with [*Error], which carries
// the original request and the response. When the executor call itself fails,
// every item in the batch is rejected with that error as-is. Either kind is
// retried first when the retry count allows and the predicate agrees.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package batch
