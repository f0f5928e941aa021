// Package identity turns file paths into stable record identities.
//
// A path is canonicalized (absolute, cleaned, symlinks resolved on the longest
// existing prefix, optionally case-folded) and the record id is a name-based
// UUID over the canonical path. The same file reached through different
// spellings therefore always maps to the same id, across runs and hosts
// sharing the store.
package identity
