/*
Package storage persists per-environment deploy results in a BoltDB file
under the server data directory.

Only the last result per environment is kept; there is no deploy history.
The deploy state machine loads the stored result at startup so the
cooldown gate and /deploy/status behave the same across restarts.
*/
package storage
