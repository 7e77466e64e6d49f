// Package harvest contains the domain model of the identifier harvester: fetch
// outcomes, classifications and the classifiers that turn one fetch into a
// durable classification, plus the interfaces workers use to reach fetchers,
// state and listing sinks.
//
// The per-credential loop lives in internal/worker and the fan-out across
// credentials in internal/dispatcher.
package harvest
