/*
Package config loads the fde YAML configuration and resolves it into the
pure-data model the rest of the system consumes.

Resolution rules applied at load time:

  - every relative path becomes absolute (see pkg/paths for the anchors)
  - token falls back from environment-level to top-level; if neither is
    set the load fails
  - serverUrl falls back identically (client side; server configs may
    omit it)

A resolved Config never changes after Load; handlers and the client read
it concurrently without locks.
*/
package config
