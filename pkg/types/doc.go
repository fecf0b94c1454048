/*
Package types defines the data structures shared by the fde client and server.

This package contains the wire types for every HTTP endpoint (upload init,
chunk, status, complete, cancel, deploy, verify, health), the on-disk
metadata format for chunked upload tasks, and the event records carried on
the deploy output stream. Both sides of the pipeline marshal against these
types, so the JSON field names here are the protocol.

All types are plain data: serializable with encoding/json, no behavior, no
locks. State machines that mutate them live in pkg/chunks and pkg/deploy.
*/
package types
