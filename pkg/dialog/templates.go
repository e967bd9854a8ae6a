package dialog

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"

	"github.com/voicetyped/adaptive/pkg/memory"
)

const maxTemplateOutput = 64 * 1024

// Templates renders text and evaluates conditions written as Go templates
// over dialog memory. Scopes are fields ({{.turn.recognized.intent}}) and
// paths can be read with Get and Has ({{.Get "$size"}}). Parsed templates
// are cached per instance.
type Templates struct {
	cache sync.Map
}

// NewTemplates creates an empty template cache.
func NewTemplates() *Templates {
	return &Templates{}
}

// templateData is the data a template executes against: the scope roots
// keyed by scope name.
type templateData map[string]any

// Get returns the value at a memory path.
func (d templateData) Get(path string) any {
	return d.state().Get(path)
}

// Has reports whether a memory path holds a value.
func (d templateData) Has(path string) bool {
	v, ok := d.state().TryGet(path)
	return ok && v != nil
}

func (d templateData) state() *memory.State {
	st := memory.New()
	for name, root := range d {
		if m, ok := root.(map[string]any); ok {
			st.SetScope(name, func() map[string]any { return m })
		}
	}
	return st
}

// Eval evaluates condition. The result is true when the output is
// non-empty and neither "false" nor "<no value>". An empty condition is
// true.
func (t *Templates) Eval(condition string, st *memory.State) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	out, err := t.execute(condition, st)
	if err != nil {
		return false, err
	}
	out = strings.TrimSpace(out)
	return out != "" && out != "false" && out != "<no value>", nil
}

// Render expands text. Text without actions is returned unchanged.
func (t *Templates) Render(text string, st *memory.State) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	return t.execute(text, st)
}

// References returns the memory paths a template reads, in order of first
// use. Field chains become dotted paths and string arguments of Get and
// Has are taken as given.
func (t *Templates) References(text string) ([]string, error) {
	tmpl, err := t.parse(text)
	if err != nil {
		return nil, err
	}
	var refs []string
	add := func(p string) {
		if p != "" && !slices.Contains(refs, p) {
			refs = append(refs, p)
		}
	}
	var walk func(n parse.Node)
	walk = func(n parse.Node) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c)
			}
		case *parse.ActionNode:
			walk(n.Pipe)
		case *parse.IfNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.RangeNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.WithNode:
			walk(n.Pipe)
			walk(n.List)
			walk(n.ElseList)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, cmd := range n.Cmds {
				walk(cmd)
			}
		case *parse.CommandNode:
			if len(n.Args) >= 2 {
				if f, ok := n.Args[0].(*parse.FieldNode); ok && len(f.Ident) == 1 && (f.Ident[0] == "Get" || f.Ident[0] == "Has") {
					if s, ok := n.Args[1].(*parse.StringNode); ok {
						add(memory.Normalize(s.Text))
					}
					return
				}
			}
			for _, arg := range n.Args {
				walk(arg)
			}
		case *parse.FieldNode:
			add(strings.Join(n.Ident, "."))
		}
	}
	walk(tmpl.Tree.Root)
	return refs, nil
}

func (t *Templates) parse(text string) (*template.Template, error) {
	if cached, ok := t.cache.Load(text); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := template.New("").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, err
	}
	t.cache.Store(text, tmpl)
	return tmpl, nil
}

func (t *Templates) execute(text string, st *memory.State) (string, error) {
	tmpl, err := t.parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	lw := &limitWriter{w: &buf, n: maxTemplateOutput}
	if err := tmpl.Execute(lw, templateData(st.Scopes())); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// limitWriter caps output from template.Execute.
type limitWriter struct {
	w       io.Writer
	n       int64
	written int64
}

func (lw *limitWriter) Write(p []byte) (int, error) {
	if lw.written+int64(len(p)) > lw.n {
		allowed := lw.n - lw.written
		if allowed > 0 {
			n, err := lw.w.Write(p[:allowed])
			lw.written += int64(n)
			if err != nil {
				return n, err
			}
		}
		return 0, fmt.Errorf("template output exceeds %d bytes", lw.n)
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	return n, err
}
