package config

import "embed"

// defaults holds the built-in ship layout, protocol catalogue and schema.
//
//go:embed defaults/ship.yaml defaults/protocols.yaml defaults/protocols.cue
var defaults embed.FS

const (
	defaultShipFile      = "defaults/ship.yaml"
	defaultProtocolsFile = "defaults/protocols.yaml"
	protocolSchemaFile   = "defaults/protocols.cue"
)
