//go:build !lobdebug

package lob

// debugChecks gates internal invariant assertions. The calling paths
// never violate them, so release builds elide the branches entirely.
// Build with -tags lobdebug to enforce.
const debugChecks = false
