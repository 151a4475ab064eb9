// Package node models the cluster members an orchestration run targets.
//
// Addresses are parsed once from user input and never mutated. Roles are not
// stored anywhere: they are derived from list position every time a
// [Topology] is walked.
package node
