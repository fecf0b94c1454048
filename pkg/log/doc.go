/*
Package log wraps zerolog behind one global logger plus child-logger
helpers for the fields every fde component tags: component, env and
upload id.

Init is called once from main; the server runs JSON output, the CLI a
console writer. Everything else asks for a child logger and logs
through it.
*/
package log
