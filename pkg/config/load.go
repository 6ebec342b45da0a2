package config

import (
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/pcds-mps/central-node/pkg/model"
)

// Load decodes a YAML configuration database from r and links it into
// a fully resolved *model.Database. On any referential violation it
// returns a non-nil *LinkError and a nil Database — no partial graph
// is ever installed (spec §4.1 "Failure semantics").
func Load(r io.Reader, logger *slog.Logger) (*model.Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var doc rawDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(false)
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return linkUp(&doc, logger)
}
