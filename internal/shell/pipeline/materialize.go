package pipeline

import (
	"path/filepath"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/artpar/maiden/internal/shell/substitute"
)

// Materializer renders environment-specific config files from templates.
type Materializer struct {
	properties domain.Properties
	engine     *substitute.Engine
}

// NewMaterializer creates a materializer for the project described by props.
func NewMaterializer(props domain.Properties, engine *substitute.Engine) *Materializer {
	if engine == nil {
		engine = substitute.NewEngine(nil)
	}
	return &Materializer{properties: props, engine: engine}
}

// Materialize renders destRoot/<application.vhostPath> from its ".template"
// sibling using env's config tokens. Running it again yields the same file.
func (m *Materializer) Materialize(env domain.Environment, destRoot string) error {
	target := filepath.Join(destRoot, m.properties.Application.VhostPath)
	return m.engine.RenderTemplate(domain.ConfigReplacements(m.properties, env), target)
}
