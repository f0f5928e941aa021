// Package oplog records multi-file pipeline operations.
//
// An operation links input files to the outputs a stage program produced from
// them. LogOperation registers every path it is given, appends an immutable
// operation record and then stamps each output with the stage implied by the
// operation type. Operation ids are random unless the caller supplies one;
// supplying a deterministic id makes replays harmless.
package oplog
