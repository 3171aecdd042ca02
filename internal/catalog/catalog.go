package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tool describes one runnable tool as presented in chats. The gateway
// executes tools by name; the catalog only carries presentation and
// argument hints for them.
type Tool struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Emoji       string `yaml:"emoji"`
	Category    string `yaml:"category"`
	Args        []Arg  `yaml:"args"`
}

// Arg is a hint about one tool argument.
type Arg struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Catalog holds the known tool manifests. Lookups for unknown tools
// synthesize an entry, so streams for server-side tools the client has
// no manifest for still render with a readable label.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{tools: make(map[string]Tool)}
}

// Default returns a catalog pre-populated with the built-in tools.
func Default() *Catalog {
	c := New()
	for _, tool := range builtins() {
		if err := c.Register(tool); err != nil {
			log.Printf("[Catalog] Failed to register builtin %s: %v", tool.Name, err)
		}
	}
	return c
}

func builtins() []Tool {
	return []Tool{
		{
			Name:        "deep_search",
			Title:       "Deep Search",
			Description: "Multi-step research that reads sources and reports key findings",
			Emoji:       "🔍",
			Category:    "research",
			Args: []Arg{
				{Name: "query", Description: "What to investigate", Required: true},
			},
		},
		{
			Name:        "web_search",
			Title:       "Web Search",
			Description: "Single-pass web lookup",
			Emoji:       "🌐",
			Category:    "research",
			Args: []Arg{
				{Name: "query", Description: "Search terms", Required: true},
			},
		},
		{
			Name:        "image_generation",
			Title:       "Image Generation",
			Description: "Render an image from a text prompt",
			Emoji:       "🎨",
			Category:    "media",
			Args: []Arg{
				{Name: "prompt", Description: "What to draw", Required: true},
			},
		},
	}
}

// Register validates and adds a tool manifest. Re-registering a name
// replaces the earlier manifest.
func (c *Catalog) Register(tool Tool) error {
	if !toolNamePattern.MatchString(tool.Name) {
		return fmt.Errorf("invalid tool name %q", tool.Name)
	}
	if tool.Title == "" {
		tool.Title = humanize(tool.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[tool.Name]; !exists {
		c.order = append(c.order, tool.Name)
	}
	c.tools[tool.Name] = tool
	return nil
}

// LoadFile reads one YAML manifest.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading manifest %s: %w", path, err)
	}

	var tool Tool
	if err := yaml.Unmarshal(data, &tool); err != nil {
		return fmt.Errorf("error parsing manifest %s: %w", path, err)
	}
	if err := c.Register(tool); err != nil {
		return fmt.Errorf("error registering manifest %s: %w", path, err)
	}
	return nil
}

// LoadDir loads every *.yaml / *.yml manifest in dir. Bad manifests are
// logged and skipped. Returns the number loaded. A missing directory is
// not an error.
func (c *Catalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading manifest directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := c.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			log.Printf("[Catalog] %v", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Lookup returns the manifest for name, synthesizing one if unknown.
func (c *Catalog) Lookup(name string) Tool {
	c.mu.RLock()
	tool, ok := c.tools[name]
	c.mu.RUnlock()
	if ok {
		return tool
	}
	return Tool{Name: name, Title: humanize(name), Category: "tool"}
}

// Known reports whether a manifest for name was registered.
func (c *Catalog) Known(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tools[name]
	return ok
}

// Tools lists registered manifests sorted by title.
func (c *Catalog) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Tool, 0, len(c.tools))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Title < out[j].Title
	})
	return out
}

// DisplayNames maps tool names to titles for stream labeling.
func (c *Catalog) DisplayNames() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make(map[string]string, len(c.tools))
	for name, tool := range c.tools {
		names[name] = tool.Title
	}
	return names
}

// humanize turns a tool name like "deep_search" into "Deep Search".
func humanize(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
