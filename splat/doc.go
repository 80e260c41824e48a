// Package splat estimates the parameters of single-cell RNA-seq count
// matrices and simulates synthetic matrices from them, using a gamma-Poisson
// count model with library size effects, expression outliers, mean-dependent
// biological variation, and optional logistic dropout.
//
// # Reading Guide
//
// Start with these three files to understand the pipeline:
//   - params.go: the Params bundle, domain checks, updates, YAML round-trip
//   - estimate.go: the estimation stages, matrix -> Params
//   - simulate.go: the sampling stages, Params -> Sim with all layers
//
// Supporting pieces:
//   - matrix.go: accepted count inputs and library-size normalization
//   - rng.go: named deterministic RNG streams, one per sampling concern
//   - errors.go: the error taxonomy (invalid input, parameter domain,
//     estimation failure)
//   - fit/: distribution fitting primitives (gamma, log-normal, logistic,
//     NB dispersion)
//
// # Determinism
//
// Estimate draws no random numbers: the same matrix always produces the same
// parameters. Simulate is seeded through Params.Seed and partitions draws
// into named streams, so equal parameter sets produce bit-identical datasets
// and toggling one component never shifts the draws of another.
package splat
