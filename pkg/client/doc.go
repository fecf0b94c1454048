/*
Package client implements the fde client side: environment verification,
the chunked upload engine with content-addressed resumption, and the
deploy trigger with its reconnecting event stream consumer.

Uploads derive their task id from the artifact's SHA-256, so an
interrupted push of identical bytes picks up exactly where it stopped.
Chunks go up through a small fixed worker pool with per-chunk
exponential retry; a chunk that exhausts its retries aborts the upload
but leaves the server-side task intact for the next attempt.
*/
package client
