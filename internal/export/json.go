package export

import (
	"encoding/json"
	"io"

	"github.com/fpt/chatdesk/internal/repository"
)

// JSONExporter writes the saved-state shape, pretty-printed
type JSONExporter struct{}

func (e *JSONExporter) Export(ps *repository.PersistedState, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(ps)
}

func (e *JSONExporter) Extension() string { return "json" }
