/*
Package checksum provides the integrity primitives for the upload pipeline:
whole-file SHA-256, per-chunk MD5, and the content-derived upload id (the
first 32 hex characters of the file's SHA-256).
*/
package checksum
