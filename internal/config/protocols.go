package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// LoadCatalogue reads the protocol catalogue from path, or the built-in
// catalogue when path is empty.
func LoadCatalogue(path string) (*safety.Catalogue, error) {
	var (
		contents []byte
		err      error
	)

	name := defaultProtocolsFile

	if path == "" {
		contents, err = defaults.ReadFile(defaultProtocolsFile)
	} else {
		name = filepath.Clean(path)
		contents, err = os.ReadFile(name)
	}

	if err != nil {
		return nil, fmt.Errorf("read protocols: %w", err)
	}

	return ParseCatalogue(name, contents)
}

// ParseCatalogue validates YAML against the catalogue schema, decodes it and
// cross-checks protocol names.
func ParseCatalogue(name string, contents []byte) (*safety.Catalogue, error) {
	if err := validateCatalogue(name, contents); err != nil {
		return nil, err
	}

	var catalogue safety.Catalogue
	if err := yaml.Unmarshal(contents, &catalogue); err != nil {
		return nil, fmt.Errorf("unmarshal protocols: %w", err)
	}

	if err := catalogue.Validate(); err != nil {
		return nil, fmt.Errorf("validate protocols: %w", err)
	}

	return &catalogue, nil
}

// validateCatalogue unifies the YAML document with the #Catalogue definition.
func validateCatalogue(name string, contents []byte) error {
	schemaSource, err := defaults.ReadFile(protocolSchemaFile)
	if err != nil {
		return fmt.Errorf("read protocol schema: %w", err)
	}

	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename(protocolSchemaFile))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile protocol schema: %w", err)
	}

	file, err := cueyaml.Extract(name, contents)
	if err != nil {
		return fmt.Errorf("parse protocols: %w", err)
	}

	document := ctx.BuildFile(file)
	if err := document.Err(); err != nil {
		return fmt.Errorf("build protocols: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Catalogue")).Unify(document)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("schema unify failed: %w", err)
	}

	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
