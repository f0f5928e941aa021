// Package preflight provides readiness checks for the record store and the
// filesystem paths pipetrack depends on.
//
// The CLI "pipetrack health" command runs RunAll and prints one line per
// check. Checks never modify tracked data; opening the store may create its
// directories and apply pending schema migrations.
package preflight
