package template

import (
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
)

// helpers are process-global in raymond and may only be registered once
var registerOnce sync.Once

// Context is what a worker definition template can reference
type Context struct {
	Name string
	Vars map[string]string
	Env  map[string]string
}

func (c Context) fields() map[string]interface{} {
	return map[string]interface{}{
		"name": c.Name,
		"vars": c.Vars,
		"env":  c.Env,
	}
}

// Engine renders worker definition templates to plain text
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*raymond.Template
}

// NewEngine creates an engine with an empty template cache
func NewEngine() *Engine {
	registerOnce.Do(registerHelpers)

	return &Engine{
		cache: make(map[string]*raymond.Template),
	}
}

// Render renders text against ctx. Text without mustaches is returned as is.
// Handlebars HTML escaping is undone, so query strings keep their &.
func (e *Engine) Render(text string, ctx Context) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := e.parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to compile template: %w", err)
	}

	out, err := tmpl.Exec(ctx.fields())
	if err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return html.UnescapeString(out), nil
}

// RenderOptions renders every value of options against ctx
func (e *Engine) RenderOptions(options map[string]string, ctx Context) (map[string]string, error) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(options))
	for _, k := range keys {
		v, err := e.Render(options[k], ctx)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (e *Engine) parse(text string) (*raymond.Template, error) {
	e.mu.RLock()
	tmpl, ok := e.cache[text]
	e.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[text]; ok {
		return tmpl, nil
	}

	tmpl, err := raymond.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	e.cache[text] = tmpl
	return tmpl, nil
}

// Validate parses text without rendering it
func (e *Engine) Validate(text string) error {
	_, err := e.parse(text)
	return err
}

func registerHelpers() {
	raymond.RegisterHelper("default", func(value interface{}, fallback interface{}) interface{} {
		if value == nil || value == "" {
			return fallback
		}
		return value
	})

	raymond.RegisterHelper("lowercase", func(str string) string {
		return strings.ToLower(str)
	})

	// urlescape is for query values, pathescape for user info and path segments
	raymond.RegisterHelper("urlescape", func(str string) raymond.SafeString {
		return raymond.SafeString(url.QueryEscape(str))
	})

	raymond.RegisterHelper("pathescape", func(str string) raymond.SafeString {
		return raymond.SafeString(url.PathEscape(str))
	})
}
