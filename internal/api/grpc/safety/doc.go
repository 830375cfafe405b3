// Package safety implements the gRPC transport for the ship safety service.
//
// Requests and replies are google.protobuf.Struct messages. Every unary reply
// is an envelope {success, result} or {success: false, error, code}, so domain
// failures reach the caller as data and only malformed requests fail the RPC.
// The service descriptor is declared by hand in desc.go.
package safety
