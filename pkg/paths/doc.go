/*
Package paths resolves config strings into absolute paths and prepares
deploy commands for execution.

Two anchors exist and must not be confused. On-disk data paths (upload
targets, the config-relative localPath) resolve against the container-side
anchor when the server runs inside a container. Command working
directories resolve against the host-side config directory, because the
deploy command executes on the host through the SSH wrapper. A single
Context carries both anchors plus the container flag.

A prepared Command is pure data (name, args, dir); pkg/deploy turns it
into a subprocess.
*/
package paths
