// Package catalog holds the tool descriptors fetched from a tool host,
// translates them into model function definitions, and validates
// model-emitted arguments against the declared input schemas.
package catalog

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/xeipuuv/gojsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge", "catalog")

// ErrUnknownTool is returned for a tool name not present in the catalog
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError describes arguments that do not match the tool schema
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := "invalid arguments for " + e.Tool
	for i, p := range e.Problems {
		if i == 0 {
			msg += ": "
		} else {
			msg += "; "
		}
		msg += p
	}
	return msg
}

// Catalog is an immutable, ordered set of tool descriptors
type Catalog struct {
	tools []mcp.Tool
	index map[string]int
	llm   []llms.Tool

	lock    sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// New returns a catalog of the given tools. Order is preserved;
// a repeated name keeps the first descriptor.
func New(tools []mcp.Tool) *Catalog {
	c := &Catalog{
		tools:   make([]mcp.Tool, 0, len(tools)),
		index:   make(map[string]int, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	for _, t := range tools {
		if _, ok := c.index[t.Name]; ok {
			logger.KV(xlog.WARNING, "status", "duplicate_tool", "tool", t.Name)
			continue
		}
		c.index[t.Name] = len(c.tools)
		c.tools = append(c.tools, t)
	}
	c.llm = Translate(c.tools)
	return c
}

// Len returns the number of tools
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// IsEmpty returns true when no tools are available
func (c *Catalog) IsEmpty() bool {
	return c.Len() == 0
}

// Names returns the tool names in catalog order
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.tools))
	for i, t := range c.tools {
		names[i] = t.Name
	}
	return names
}

// Has returns true if the tool exists
func (c *Catalog) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[name]
	return ok
}

// Get returns the tool descriptor by name
func (c *Catalog) Get(name string) (mcp.Tool, bool) {
	if c == nil {
		return mcp.Tool{}, false
	}
	i, ok := c.index[name]
	if !ok {
		return mcp.Tool{}, false
	}
	return c.tools[i], true
}

// Tools returns a copy of the descriptors
func (c *Catalog) Tools() []mcp.Tool {
	if c == nil {
		return []mcp.Tool{}
	}
	return append([]mcp.Tool{}, c.tools...)
}

// LLMTools returns the translated function definitions
func (c *Catalog) LLMTools() []llms.Tool {
	if c == nil {
		return nil
	}
	return c.llm
}

// ValidateArguments checks decoded arguments against the tool's input schema.
// A tool without a usable schema accepts any arguments.
func (c *Catalog) ValidateArguments(name string, args map[string]any) error {
	tool, ok := c.Get(name)
	if !ok {
		return errors.WithMessagef(ErrUnknownTool, "%s", name)
	}

	schema := c.compiledSchema(tool)
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return errors.Wrapf(err, "unable to validate arguments for %s", name)
	}
	if res.Valid() {
		return nil
	}

	verr := &ValidationError{Tool: name}
	for _, re := range res.Errors() {
		verr.Problems = append(verr.Problems, re.String())
	}
	return verr
}

func (c *Catalog) compiledSchema(tool mcp.Tool) *gojsonschema.Schema {
	c.lock.Lock()
	defer c.lock.Unlock()

	if s, ok := c.schemas[tool.Name]; ok {
		return s
	}

	var schema *gojsonschema.Schema
	if len(bytes.TrimSpace(tool.InputSchema)) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.InputSchema))
		if err != nil {
			logger.KV(xlog.WARNING,
				"status", "invalid_input_schema",
				"tool", tool.Name,
				"err", err.Error(),
			)
		} else {
			schema = s
		}
	}
	// a nil entry caches the decision to skip validation
	c.schemas[tool.Name] = schema
	return schema
}

// Fingerprint returns a hash of the catalog content, stable across reconnects
// to a host that serves the same tools.
func (c *Catalog) Fingerprint() uint64 {
	h := xxhash.New()
	if c == nil {
		return h.Sum64()
	}
	var buf bytes.Buffer
	for _, t := range c.tools {
		_, _ = h.WriteString(t.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(t.Description)
		_, _ = h.Write([]byte{0})
		buf.Reset()
		if err := json.Compact(&buf, t.InputSchema); err == nil {
			_, _ = h.Write(buf.Bytes())
		} else {
			_, _ = h.Write(t.InputSchema)
		}
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
