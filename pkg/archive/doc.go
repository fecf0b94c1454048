/*
Package archive wraps directory uploads in a scoped temporary zip.

The zip lives in the OS temp directory for exactly the duration of the
consume callback and is removed on every exit path. Exclusions use
doublestar glob patterns over slash-separated paths relative to the
source directory; dotfiles are archived unless a pattern says otherwise.
Extraction guards against entries escaping the target directory.
*/
package archive
