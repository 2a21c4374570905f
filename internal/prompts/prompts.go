// Package prompts holds the templates that seed sessions and drive the
// daily summarization.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"text/template"
)

//go:embed defaults/*.tmpl
var defaultsFS embed.FS

// Placeholder names available to the templates.
const (
	Patient      = "Patient"
	CurrentTime  = "CurrentTime"
	SummaryCount = "SummaryCount"
	Summaries    = "Summaries"
	SameDay      = "SameDay"
	Conversation = "Conversation"
)

var ErrRender = errors.New("prompt render failed")

// Vars maps placeholder names to values. Every placeholder a template
// references must be present.
type Vars map[string]any

type Template struct {
	name string
	tmpl *template.Template
}

func Parse(name, text string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return &Template{name: name, tmpl: t}, nil
}

func (t *Template) Name() string { return t.name }

func (t *Template) Render(vars Vars) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, map[string]any(vars)); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRender, t.name, err)
	}
	return buf.String(), nil
}

type Set struct {
	FirstTimeSystem  *Template
	ReturningSystem  *Template
	FirstTimeOpening *Template
	ReturningOpening *Template
	Summarization    *Template
}

// Paths points at files overriding the built-in templates. Empty entries
// keep the default.
type Paths struct {
	FirstTimeSystem  string
	ReturningSystem  string
	FirstTimeOpening string
	ReturningOpening string
	Summarization    string
}

func Default() *Set {
	s, err := Load(Paths{})
	if err != nil {
		panic(err)
	}
	return s
}

func Load(p Paths) (*Set, error) {
	var (
		s   Set
		err error
	)
	entries := []struct {
		dst  **Template
		name string
		path string
	}{
		{&s.FirstTimeSystem, "first_time_system", p.FirstTimeSystem},
		{&s.ReturningSystem, "returning_system", p.ReturningSystem},
		{&s.FirstTimeOpening, "first_time_opening", p.FirstTimeOpening},
		{&s.ReturningOpening, "returning_opening", p.ReturningOpening},
		{&s.Summarization, "summarization", p.Summarization},
	}
	for _, e := range entries {
		if *e.dst, err = loadOne(e.name, e.path); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func loadOne(name, path string) (*Template, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = defaultsFS.ReadFile("defaults/" + name + ".tmpl")
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt %s: %w", name, err)
	}
	return Parse(name, string(data))
}
