package schema

import (
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Keys of the dialog-level schema extensions.
const (
	OperationsKey       = "$operations"
	ExpectedOnlyKey     = "$expectedOnly"
	RequiresValueKey    = "$requiresValue"
	DefaultOperationKey = "$defaultOperation"
	EntitiesKey         = "$entities"
)

// DefaultOperation is used when no default-operation table has an entry.
const DefaultOperation = "set"

// ErrInvalidSchema is wrapped by every structural schema error.
var ErrInvalidSchema = errors.New("invalid schema")

var defaultRequiresValue = []string{"add", "remove"}

// PropertySchema is one node of the property tree. Nodes are built once by
// Parse and must not be modified afterwards.
type PropertySchema struct {
	Path         string
	Name         string
	Type         string
	IsArray      bool
	IsEnum       bool
	Entities     []string
	ExpectedOnly []string // nil means "use the dialog-level list"
	Children     []*PropertySchema

	parent *PropertySchema
}

// Parent returns the enclosing property, or nil for the root.
func (p *PropertySchema) Parent() *PropertySchema {
	return p.parent
}

// DialogSchema is a parsed dialog schema with its property tree.
type DialogSchema struct {
	Property *PropertySchema

	required         []string
	operations       []string
	expectedOnly     []string
	requiresValue    []string
	defaultOperation map[string]string
	byPath           map[string]*PropertySchema
}

// Required returns the required top-level property names.
func (d *DialogSchema) Required() []string { return d.required }

// Operations returns the declared operation keywords in preference order.
func (d *DialogSchema) Operations() []string { return d.operations }

// ExpectedOnly returns the dialog-level expected-only entity names.
func (d *DialogSchema) ExpectedOnly() []string { return d.expectedOnly }

// RequiresValue returns the operations that need an entity value.
func (d *DialogSchema) RequiresValue() []string { return d.requiresValue }

// DefaultOperationTable returns the $defaultOperation table.
func (d *DialogSchema) DefaultOperationTable() map[string]string { return d.defaultOperation }

// PropertyNames returns the names of the top-level properties in declaration order.
func (d *DialogSchema) PropertyNames() []string {
	names := make([]string, 0, len(d.Property.Children))
	for _, c := range d.Property.Children {
		names = append(names, c.Name)
	}
	return names
}

// PathToSchema returns the property at a dotted path.
func (d *DialogSchema) PathToSchema(path string) (*PropertySchema, bool) {
	p, ok := d.byPath[path]
	return p, ok
}

// IsArray reports whether the property at path holds multiple values.
func (d *DialogSchema) IsArray(path string) bool {
	p, ok := d.byPath[path]
	return ok && p.IsArray
}

// EntityPreferences returns the entity types mapped to a property in
// preference order. A property-less lookup returns the operations.
func (d *DialogSchema) EntityPreferences(path string) []string {
	if path == "" {
		return d.operations
	}
	if p, ok := d.byPath[path]; ok {
		return p.Entities
	}
	return nil
}

// Parse builds a DialogSchema from a JSON or YAML document.
func Parse(data []byte) (*DialogSchema, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", ErrInvalidSchema, err)
	}
	if root.Kind == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidSchema)
	}
	var doc map[string]any
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse document: %v", ErrInvalidSchema, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidSchema)
	}
	recordPropertyOrder(&root, doc, false)
	return FromMap(doc)
}

// recordPropertyOrder stores the declaration order of every "properties"
// object as $propertyOrder, unless the document already names one. Decoding
// into maps drops key order. names is set while n is itself a properties
// object, whose keys are property names rather than keywords.
func recordPropertyOrder(n *yaml.Node, v any, names bool) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) > 0 {
			recordPropertyOrder(n.Content[0], v, names)
		}
	case yaml.MappingNode:
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i].Value, n.Content[i+1]
			props := !names && key == "properties"
			if props && val.Kind == yaml.MappingNode {
				if _, set := m["$propertyOrder"]; !set {
					m["$propertyOrder"] = mappingKeys(val)
				}
			}
			recordPropertyOrder(val, m[key], props)
		}
	case yaml.SequenceNode:
		l, ok := v.([]any)
		if !ok {
			return
		}
		for i, item := range n.Content {
			if i < len(l) {
				recordPropertyOrder(item, l[i], false)
			}
		}
	}
}

func mappingKeys(n *yaml.Node) []any {
	keys := make([]any, 0, len(n.Content)/2)
	for i := 0; i < len(n.Content); i += 2 {
		keys = append(keys, n.Content[i].Value)
	}
	return keys
}

// FromMap builds a DialogSchema from an already decoded document.
func FromMap(doc map[string]any) (*DialogSchema, error) {
	if _, ok := doc["properties"].(map[string]any); !ok {
		return nil, fmt.Errorf("%w: missing \"properties\" object", ErrInvalidSchema)
	}

	d := &DialogSchema{
		byPath:        make(map[string]*PropertySchema),
		requiresValue: defaultRequiresValue,
	}

	var err error
	if d.required, err = stringList(doc, "required"); err != nil {
		return nil, err
	}
	if d.operations, err = stringList(doc, OperationsKey); err != nil {
		return nil, err
	}
	if d.expectedOnly, err = stringList(doc, ExpectedOnlyKey); err != nil {
		return nil, err
	}
	if _, ok := doc[RequiresValueKey]; ok {
		if d.requiresValue, err = stringList(doc, RequiresValueKey); err != nil {
			return nil, err
		}
	}
	if d.defaultOperation, err = stringMap(doc, DefaultOperationKey); err != nil {
		return nil, err
	}

	root, err := d.build("", "", doc, nil)
	if err != nil {
		return nil, err
	}
	d.Property = root
	return d, nil
}

func (d *DialogSchema) build(path, name string, node map[string]any, parent *PropertySchema) (*PropertySchema, error) {
	where := path
	if where == "" {
		where = "<root>"
	}

	typ, _ := node["type"].(string)
	if typ == "" && parent != nil {
		return nil, fmt.Errorf("%w: property %q has no type", ErrInvalidSchema, where)
	}

	p := &PropertySchema{Path: path, Name: name, Type: typ, parent: parent}

	if typ == "array" {
		items, ok := node["items"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: array property %q has no items", ErrInvalidSchema, where)
		}
		p.IsArray = true
		if itemType, _ := items["type"].(string); itemType != "" {
			p.Type = itemType
		}
		if _, ok := items["enum"]; ok {
			p.IsEnum = true
		}
		node = mergeItems(node, items)
	}
	if _, ok := node["enum"]; ok {
		p.IsEnum = true
	}

	entities, err := stringList(node, EntitiesKey)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", where, err)
	}
	if entities == nil && parent != nil {
		entities = []string{name}
	}
	p.Entities = entities

	if _, ok := node[ExpectedOnlyKey]; ok {
		if p.ExpectedOnly, err = stringList(node, ExpectedOnlyKey); err != nil {
			return nil, fmt.Errorf("property %q: %w", where, err)
		}
		if p.ExpectedOnly == nil {
			p.ExpectedOnly = []string{}
		}
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for _, childName := range orderedKeys(node, props) {
			childNode, ok := props[childName].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: property %q is not an object", ErrInvalidSchema, join(path, childName))
			}
			child, err := d.build(join(path, childName), childName, childNode, p)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, child)
		}
	}

	if parent != nil {
		d.byPath[path] = p
	}
	return p, nil
}

// mergeItems lets object-typed array items contribute their properties.
func mergeItems(node, items map[string]any) map[string]any {
	if _, ok := items["properties"]; !ok {
		return node
	}
	merged := make(map[string]any, len(node)+1)
	for k, v := range node {
		merged[k] = v
	}
	merged["properties"] = items["properties"]
	if order, ok := items["$propertyOrder"]; ok {
		merged["$propertyOrder"] = order
	}
	return merged
}

// orderedKeys returns property names in $propertyOrder order. Names the
// order leaves out follow, sorted, so maps built in code stay deterministic.
func orderedKeys(node, props map[string]any) []string {
	seen := make(map[string]bool, len(props))
	var keys []string
	if order, err := stringList(node, "$propertyOrder"); err == nil {
		for _, k := range order {
			if _, ok := props[k]; ok && !seen[k] {
				keys = append(keys, k)
				seen[k] = true
			}
		}
	}
	rest := make([]string, 0, len(props))
	for k := range props {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func stringList(node map[string]any, key string) ([]string, error) {
	raw, ok := node[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a list of strings", ErrInvalidSchema, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be a list of strings", ErrInvalidSchema, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMap(node map[string]any, key string) (map[string]string, error) {
	raw, ok := node[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must map entity names to operations", ErrInvalidSchema, key)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q entry %q must be a string", ErrInvalidSchema, key, k)
		}
		out[k] = s
	}
	return out, nil
}
