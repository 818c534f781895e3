// Package experiment runs whole clusters of nodes inside one process.
//
// A Plan lists named experiments (machine count, duration, internal event
// probability, tick-rate variation, trials). Plans are written in CUE or
// YAML and checked against an embedded CUE schema that also supplies
// defaults. Each trial writes one machine_<id>.log per node into its own
// directory and, optionally, into the SQLite store under a fresh run id.
package experiment
