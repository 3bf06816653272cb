package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

// Handler executes one tool. Args have already been validated against the
// tool's schema and hold plain JSON values.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Spec struct {
	Name   string
	Desc   string
	Params map[string]*schema.ParameterInfo
}

type entry struct {
	spec      Spec
	info      *schema.ToolInfo
	validator *jsonschema.Schema
	handler   Handler
}

// Catalog is an explicit registry of the tools available to a process.
type Catalog struct {
	entries map[string]*entry
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*entry)}
}

func (c *Catalog) Register(spec Spec, handler Handler) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: tool %s has no handler", contractx.ErrValidation, name)
	}
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("%w: tool %s registered twice", contractx.ErrValidation, name)
	}

	validator, err := compileSchema(name, spec.Params)
	if err != nil {
		return err
	}

	spec.Name = name
	c.entries[name] = &entry{
		spec: spec,
		info: &schema.ToolInfo{
			Name:        name,
			Desc:        spec.Desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(spec.Params),
		},
		validator: validator,
		handler:   handler,
	}
	return nil
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Infos returns the model-facing schemas of the named tools in the order
// given. Unregistered names are skipped.
func (c *Catalog) Infos(names ...string) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		if e, ok := c.entries[name]; ok {
			out = append(out, e.info)
		}
	}
	return out
}

// Call validates args and runs the named tool.
func (c *Catalog) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, name)
	}

	normalized, err := normalizeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contractx.ErrInvalidToolArgs, name, err)
	}
	if err := e.validator.Validate(normalized); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contractx.ErrInvalidToolArgs, name, err)
	}

	return e.handler(ctx, normalized.(map[string]any))
}

// normalizeArgs round-trips args through JSON so the validator and handlers
// only see JSON value types.
func normalizeArgs(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func compileSchema(name string, params map[string]*schema.ParameterInfo) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(objectSchema(params))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", name, err)
	}

	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	return compiled, nil
}

func objectSchema(params map[string]*schema.ParameterInfo) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0)
	for key, p := range params {
		if p == nil {
			continue
		}
		props[key] = paramSchema(p, p.Required)
		if p.Required {
			required = append(required, key)
		}
	}
	sort.Strings(required)

	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// paramSchema converts one parameter. Optional parameters also accept null
// because models routinely send explicit nulls for unset fields.
func paramSchema(p *schema.ParameterInfo, required bool) map[string]any {
	var out map[string]any
	switch p.Type {
	case schema.Object:
		out = objectSchema(p.SubParams)
	case schema.Array:
		out = map[string]any{"type": "array"}
		if p.ElemInfo != nil {
			out["items"] = paramSchema(p.ElemInfo, true)
		}
	default:
		out = map[string]any{"type": string(p.Type)}
	}

	if len(p.Enum) > 0 {
		enum := make([]any, 0, len(p.Enum)+1)
		for _, v := range p.Enum {
			enum = append(enum, v)
		}
		if !required {
			enum = append(enum, nil)
		}
		out["enum"] = enum
	}
	if !required {
		out["type"] = []any{out["type"], "null"}
	}
	return out
}
