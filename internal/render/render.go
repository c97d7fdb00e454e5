// Package render turns a composed configuration into the installable
// file set: rendered agent definitions, the CLAUDE.md and README
// documents, collected skills and hooks, settings.json, and the
// optional services manifest for the dashboard.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/agentsmith-labs/agentsmith/internal/compose"
	"github.com/agentsmith-labs/agentsmith/internal/services"
	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

// templateExt marks files that are rendered rather than copied. The
// extension is stripped from the output name.
const templateExt = ".tmpl"

// Context is the data visible to every template.
type Context struct {
	// Stacks are the composed stacks in order.
	Stacks []*stack.Stack

	// Stack is set when exactly one stack is composed, and always set
	// for stack agent templates.
	Stack *stack.Stack

	// Agent is set for stack agent templates only.
	Agent *stack.Agent

	AllAgents       []stack.Agent
	AllSkills       []string
	AllQualityGates map[string]map[string]*stack.QualityGate
	AllPatterns     []string
	AllStyles       []string
	DefaultModel    string
	Variables       map[string]any
	Dashboard       bool
}

// Output is everything the installer writes into a target repository.
type Output struct {
	// Agents maps output filename (orchestrator.md,
	// backend-developer.md, ...) to rendered content.
	Agents map[string]string

	ClaudeMD string
	Readme   string

	// Patterns and Styles map document filename to content.
	Patterns map[string][]byte
	Styles   map[string][]byte

	// Skills maps skill name to its source directory tree.
	Skills map[string]fs.FS

	// Hooks maps hook filename to content.
	Hooks map[string][]byte

	// Settings is the parsed settings.json, with multi-repo wiring
	// injected for multi-stack installs.
	Settings map[string]any

	// Services is the dashboard services manifest; nil unless the
	// dashboard is enabled and at least one stack has a dev server.
	Services *services.Config

	// Warnings are non-fatal rendering notes.
	Warnings []string
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"basename": path.Base,
		"join":     strings.Join,
		"contains": strings.Contains,
		"findByRole": func(agents []stack.Agent, role string) *stack.Agent {
			for i := range agents {
				if strings.Contains(agents[i].Name, role) {
					return &agents[i]
				}
			}
			return nil
		},
	}
}

// NewContext builds the template context for a composed result.
func NewContext(res *compose.Result, dashboard bool) *Context {
	ctx := &Context{
		Stacks:          res.Stacks,
		AllAgents:       res.Agents,
		AllSkills:       res.Skills,
		AllQualityGates: res.QualityGates,
		AllPatterns:     sortedNames(res.Patterns),
		AllStyles:       sortedNames(res.Styles),
		DefaultModel:    res.DefaultModel,
		Variables:       res.Variables,
		Dashboard:       dashboard,
	}
	if len(res.Stacks) == 1 {
		ctx.Stack = res.Stacks[0]
	}
	return ctx
}

// Render produces the full output for a composed result. base is the
// base template tree (corpus.Base() or a directory overlay).
func Render(base fs.FS, res *compose.Result, dashboard bool) (*Output, error) {
	ctx := NewContext(res, dashboard)

	out := &Output{
		Agents:   make(map[string]string),
		Patterns: res.Patterns,
		Styles:   res.Styles,
		Skills:   make(map[string]fs.FS),
		Hooks:    make(map[string][]byte),
	}

	if err := renderBaseAgents(out, base, ctx); err != nil {
		return nil, err
	}
	renderStackAgents(out, res, ctx)

	var err error
	if out.ClaudeMD, err = renderFile(base, "CLAUDE.md"+templateExt, ctx); err != nil {
		return nil, err
	}
	if out.Readme, err = renderFile(base, "README.md"+templateExt, ctx); err != nil {
		return nil, err
	}

	collectSkills(out, base, res)
	collectHooks(out, base, res)

	if err := loadSettings(out, base, res); err != nil {
		return nil, err
	}

	if dashboard {
		out.Services = servicesConfig(res)
	}

	return out, nil
}

// renderBaseAgents renders every agents/*.md.tmpl in the base tree.
// Base agents are shared by all stacks, so a broken one fails the
// whole render.
func renderBaseAgents(out *Output, base fs.FS, ctx *Context) error {
	matches, err := fs.Glob(base, "agents/*.md"+templateExt)
	if err != nil {
		return err
	}
	sort.Strings(matches)

	for _, name := range matches {
		content, err := renderFile(base, name, ctx)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", name, err)
		}
		out.Agents[strings.TrimSuffix(path.Base(name), templateExt)] = content
	}
	return nil
}

// renderStackAgents renders each stack's agent templates. A broken
// stack template is reported as a warning and skipped, matching how
// a bad overlay stack should degrade rather than abort an install.
func renderStackAgents(out *Output, res *compose.Result, ctx *Context) {
	for _, st := range res.Stacks {
		for i := range st.Agents {
			agent := &st.Agents[i]

			data, err := st.ReadFile(agent.Template)
			if err != nil {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("failed to render %s/%s: %v", st.Name, agent.Template, err))
				continue
			}

			agentCtx := *ctx
			agentCtx.Stack = st
			agentCtx.Agent = agent

			content, err := execute(st.Name+"/"+agent.Template, string(data), &agentCtx)
			if err != nil {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("failed to render %s/%s: %v", st.Name, agent.Template, err))
				continue
			}
			out.Agents[agent.Name+".md"] = content
		}
	}
}

// collectSkills gathers skill directories: base skills always, stack
// skills by name. A later stack wins on name collisions.
func collectSkills(out *Output, base fs.FS, res *compose.Result) {
	entries, err := fs.ReadDir(base, "skills")
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if sub, err := fs.Sub(base, "skills/"+e.Name()); err == nil {
				out.Skills[e.Name()] = sub
			}
		}
	}

	for _, st := range res.Stacks {
		for _, name := range st.Skills {
			if dir, ok := st.FindDir("skills/" + name); ok {
				out.Skills[name] = dir
			}
		}
	}
}

// collectHooks gathers hook files: base hooks first, stack hooks
// overriding by filename.
func collectHooks(out *Output, base fs.FS, res *compose.Result) {
	addHooks := func(fsys fs.FS) {
		entries, err := fs.ReadDir(fsys, "hooks")
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if data, err := fs.ReadFile(fsys, "hooks/"+e.Name()); err == nil {
				out.Hooks[e.Name()] = data
			}
		}
	}

	addHooks(base)
	for _, st := range res.Stacks {
		if dir, ok := st.FindDir("hooks"); ok {
			entries, err := fs.ReadDir(dir, ".")
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if data, err := fs.ReadFile(dir, e.Name()); err == nil {
					out.Hooks[e.Name()] = data
				}
			}
		}
	}
}

// loadSettings parses the base settings.json and injects the
// multi-repo section for multi-stack installs.
func loadSettings(out *Output, base fs.FS, res *compose.Result) error {
	out.Settings = make(map[string]any)

	data, err := fs.ReadFile(base, "settings.json")
	if err == nil {
		if err := json.Unmarshal(data, &out.Settings); err != nil {
			return fmt.Errorf("parsing settings.json: %w", err)
		}
	}

	if len(res.Stacks) > 1 {
		pm, _ := out.Settings["pm"].(map[string]any)
		if pm == nil {
			pm = make(map[string]any)
		}

		repos := make(map[string]any, len(res.Stacks))
		repoMap := make(map[string]any, len(res.Stacks))
		for _, st := range res.Stacks {
			repos[st.WorkingDir] = "./" + st.WorkingDir
			repoMap[st.Name] = st.WorkingDir
		}
		pm["multi_repo"] = map[string]any{
			"enabled":        true,
			"repositories":   repos,
			"stack_repo_map": repoMap,
		}
		out.Settings["pm"] = pm
	}

	return nil
}

// servicesConfig builds the dashboard services manifest from each
// stack's dev server. Stacks without one are skipped; nil is returned
// when nothing is runnable.
func servicesConfig(res *compose.Result) *services.Config {
	var svcs []services.Service
	for _, st := range res.Stacks {
		if st.Verification == nil || st.Verification.DevServer == nil {
			continue
		}
		ds := st.Verification.DevServer
		if ds.Command == "" {
			continue
		}

		port := ds.Port
		if port == 0 {
			port = intVariable(st.Variables, "dev_port")
		}
		svcs = append(svcs, services.Service{
			ID:      st.Name,
			Name:    st.DisplayName + " Dev Server",
			Command: ds.Command,
			Cwd:     st.WorkingDir,
			Port:    port,
		})
	}
	if len(svcs) == 0 {
		return nil
	}
	return &services.Config{Services: svcs}
}

// renderFile renders one template file from fsys.
func renderFile(fsys fs.FS, name string, ctx *Context) (string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", err
	}
	return execute(name, string(data), ctx)
}

func execute(name, text string, ctx *Context) (string, error) {
	tmpl, err := template.New(name).Funcs(funcMap()).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intVariable(vars map[string]any, key string) int {
	switch v := vars[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
