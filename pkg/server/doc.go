/*
Package server exposes the fde HTTP surface: health probes, the chunked
upload endpoints, the deploy trigger with its SSE stream, and the
authenticated status routes.

Every protected handler funnels through one validator (env present, env
known, token configured, token supplied, constant-time match). Callers
map validator errors containing "token" to 403 and everything else to
400; that substring convention is part of the external contract.

Handler bodies stay thin: they decode, authenticate, delegate to
pkg/chunks or pkg/deploy, and translate sentinel errors into the uniform
JSON error shape. The deploy stream handler is the exception — it owns
the response for the lifetime of the subprocess, which is why the server
runs without a write timeout and with a generous idle timeout.
*/
package server
