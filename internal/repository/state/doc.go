// Package state implements persistence for the coordinator's ShipSnapshot.
//
// The FileRepository stores and loads the snapshot as protobuf JSON on disk and
// exposes a Repository interface that the coordinator depends on.
package state
