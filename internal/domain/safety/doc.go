// Package safety contains the core domain types shared by the subsystem adapters,
// the coordinator and the transport layer.
//
// It defines system and ship statuses, SystemEvent with its response actions,
// timed Session records, adapter results and self-test reports, emergency
// protocols, the Adapter contract and the error taxonomy. Types that leave an
// owner carry Clone helpers to avoid leaking internal references.
package safety
