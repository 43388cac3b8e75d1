package strategy

import (
	"sort"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// Spec is one configured strategy instance.
type Spec struct {
	ID      uint32         `json:"id" yaml:"id"`
	Name    string         `json:"name" yaml:"name"`
	Type    string         `json:"type" yaml:"type"`
	Symbols []string       `json:"symbols" yaml:"symbols"`
	Params  map[string]any `json:"params" yaml:"params"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Constructor builds a strategy from validated parameters.
type Constructor func(env Env, symbols []schema.SymbolID, p Params) (Strategy, error)

// Definition registers a strategy type.
type Definition struct {
	Type       string
	Params     []ParamSpec
	MinSymbols int
	MaxSymbols int
	New        Constructor
}

// Factory builds strategies by type name.
type Factory struct {
	defs map[string]Definition
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{defs: make(map[string]Definition)}
}

// DefaultFactory returns a factory with the bundled strategies.
func DefaultFactory() *Factory {
	f := NewFactory()
	for _, def := range []Definition{trendDefinition(), meanRevDefinition(), marketMakerDefinition(), pairsDefinition()} {
		if err := f.Register(def); err != nil {
			panic(err)
		}
	}
	return f
}

// Register adds a definition. Type names are unique.
func (f *Factory) Register(def Definition) error {
	if def.Type == "" || def.New == nil {
		return errors.Wrap(exception.ErrConfigInvalidValue, "strategy definition needs a type and constructor")
	}
	if _, ok := f.defs[def.Type]; ok {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "strategy type %q registered twice", def.Type)
	}
	f.defs[def.Type] = def
	return nil
}

// Types lists registered type names in order.
func (f *Factory) Types() []string {
	out := make([]string, 0, len(f.defs))
	for name := range f.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Definition returns the registered definition for typ.
func (f *Factory) Definition(typ string) (Definition, bool) {
	def, ok := f.defs[typ]
	return def, ok
}

// Build validates spec against its definition and constructs the strategy.
// env.ID and env.Name are taken from spec.
func (f *Factory) Build(spec Spec, env Env) (Strategy, error) {
	def, ok := f.defs[spec.Type]
	if !ok {
		return nil, errors.Wrapf(exception.ErrConfigUnknownType, "strategy %q type %q", spec.Name, spec.Type)
	}
	if spec.ID == 0 {
		return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "strategy %q needs a non-zero id", spec.Name)
	}
	n := len(spec.Symbols)
	if n < def.MinSymbols || (def.MaxSymbols > 0 && n > def.MaxSymbols) {
		return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "strategy %q: %s takes %d..%d symbols, got %d", spec.Name, spec.Type, def.MinSymbols, def.MaxSymbols, n)
	}
	symbols := make([]schema.SymbolID, 0, n)
	for _, name := range spec.Symbols {
		id, ok := env.Registry.SymbolIDByName(name)
		if !ok {
			return nil, errors.Wrapf(exception.ErrConfigUnknownSymbol, "strategy %q symbol %q", spec.Name, name)
		}
		symbols = append(symbols, id)
	}
	params, err := ValidateParams(def.Params, spec.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "strategy %q", spec.Name)
	}
	env.ID = spec.ID
	env.Name = spec.Name
	return def.New(env, symbols, params)
}
