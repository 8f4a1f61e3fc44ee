package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/fpt/chatdesk/internal/repository"
)

// YAMLExporter writes the saved-state shape as YAML
type YAMLExporter struct{}

func (e *YAMLExporter) Export(ps *repository.PersistedState, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(ps)
}

func (e *YAMLExporter) Extension() string { return "yaml" }
