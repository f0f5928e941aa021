// Package scan registers files that already exist on disk.
//
// A scan walks a directory tree, keeps the regular files whose base name
// matches a glob, and registers each one through the tracker with a bounded
// number of concurrent workers. Per-file failures are collected in the
// result; store-level failures stop the scan.
package scan
