// Package protomodel defines the candidate model explored by the walkers.
//
// A Model is a set of hypothetical particles, each with a mass, a decay
// table and per-pair production multipliers. A particle whose mass is absent
// or at least DecoupledMass is frozen: it takes no part in any process.
//
// Key design principles:
//   - Models are plain values. Clone returns a deep copy and every mutation
//     in this module works on copies, never on a shared instance.
//   - The serialized form (State) is stable JSON so that hiscore files and
//     snapshots written by one worker can be read by any other.
//   - The lightest supersymmetric particle (LSP) is never frozen. It is the
//     stable end of every decay chain.
//
// Combination is a value copy of the analyses that produced a model's score.
// It never holds references to likelihood objects.
package protomodel
