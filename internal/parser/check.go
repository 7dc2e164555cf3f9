package parser

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// shapeChecker collects field-level problems of a decoded document.
type shapeChecker struct {
	doc  string
	errs []error
}

func (c *shapeChecker) fail(path, format string, args ...any) {
	c.errs = append(c.errs, &schema.DocumentError{
		Path:   c.doc + ": " + path,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (c *shapeChecker) err() error { return errors.Join(c.errs...) }

func (c *shapeChecker) metadata(m schema.Metadata) {
	if m.Name == "" {
		c.fail("metadata.name", "is required")
	}
	if m.Tag == "" {
		c.fail("metadata.tag", "is required")
	}
}

func (c *shapeChecker) valueType(path string, t schema.ValueType, required bool) {
	if t == "" && !required {
		return
	}
	if !t.Valid() {
		c.fail(path, "unknown type %q", t)
	}
}

func (c *shapeChecker) inputs(path string, inputs []schema.Input) {
	for i, in := range inputs {
		p := fmt.Sprintf("%s.inputs[%d]", path, i)
		if in.Name == "" {
			c.fail(p+".name", "is required")
		}
		c.valueType(p+".type", in.Type, true)
		c.valueType(p+".items_type", in.ItemsType, false)
	}
}

func (c *shapeChecker) dag(path string, dag schema.DAG) {
	if dag.Name == "" {
		c.fail(path+".name", "is required")
	}
	c.inputs(path, dag.Inputs)
	for i, task := range dag.Tasks {
		p := fmt.Sprintf("%s.tasks[%d]", path, i)
		if task.Name == "" {
			c.fail(p+".name", "is required")
		}
		if task.Template == "" {
			c.fail(p+".template", "is required")
		}
		for j, arg := range task.Arguments {
			ap := fmt.Sprintf("%s.arguments[%d]", p, j)
			if arg.Name == "" {
				c.fail(ap+".name", "is required")
			}
			if arg.From.Reference == nil {
				c.fail(ap+".from", "is required")
			}
		}
		if task.Loop != nil && task.Loop.From.Reference == nil {
			c.fail(p+".loop.from", "is required")
		}
		for j, ret := range task.Returns {
			c.valueType(fmt.Sprintf("%s.returns[%d].type", p, j), ret.Type, true)
		}
	}
	for i, out := range dag.Outputs {
		p := fmt.Sprintf("%s.outputs[%d]", path, i)
		c.valueType(p+".type", out.Type, true)
		if out.From.Reference == nil {
			c.fail(p+".from", "is required")
		}
	}
}

func checkRecipe(doc string, r *schema.Recipe) error {
	c := &shapeChecker{doc: doc}
	c.metadata(r.Metadata)
	for i, dep := range r.Dependencies {
		p := fmt.Sprintf("dependencies[%d]", i)
		if !dep.Kind.Valid() {
			c.fail(p+".kind", "must be %q or %q", schema.DependencyPlugin, schema.DependencyRecipe)
		}
		if dep.Name == "" {
			c.fail(p+".name", "is required")
		}
		if dep.Tag == "" && dep.Hash == "" {
			c.fail(p+".tag", "is required unless hash is set")
		}
	}
	if len(r.Flow) == 0 {
		c.fail("flow", "must contain at least one dag")
	}
	for i, dag := range r.Flow {
		c.dag(fmt.Sprintf("flow[%d]", i), dag)
	}
	return c.err()
}

func checkPlugin(doc string, p *schema.Plugin) error {
	c := &shapeChecker{doc: doc}
	c.metadata(p.Metadata)
	if p.Config.Docker != nil && p.Config.Docker.Image == "" {
		c.fail("config.docker.image", "is required")
	}
	for i, fn := range p.Functions {
		path := fmt.Sprintf("functions[%d]", i)
		if fn.Name == "" {
			c.fail(path+".name", "is required")
		}
		c.inputs(path, fn.Inputs)
		for j, out := range fn.Outputs {
			c.valueType(fmt.Sprintf("%s.outputs[%d].type", path, j), out.Type, true)
		}
	}
	return c.err()
}
