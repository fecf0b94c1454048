/*
Package chunks implements the server side of the resumable chunked
upload engine.

Every upload task is a directory under the chunk root:

	<chunkRoot>/<uploadId>/
	    metadata.json    canonical task state (atomic write + rename)
	    chunk_000000
	    chunk_000001
	    ...

The store exposes the five task operations (init, chunk write, status,
complete, cancel). Chunk writes are idempotent: re-posting an index
overwrites the chunk file and leaves the recorded set unchanged. Complete
merges chunks in strictly ascending index order, verifies the optional
whole-file SHA-256, hands the merged file to a finalize callback, and
removes the task. A mismatch destroys the task and reports the expected
and actual digests.

Concurrency: one mutex per upload id, handed out by a store-level map.
Writers of the same task serialise; different tasks never contend. The
hourly sweeper removes tasks untouched for 24h, re-checking the age under
the task lock so an actively written task is never swept.
*/
package chunks
