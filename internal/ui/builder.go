package ui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wptspec/internal/labels"
	"wptspec/internal/logging"
	"wptspec/internal/productspec"
)

// clipboardWriteAll is a package-level variable to allow mocking in tests.
var clipboardWriteAll = clipboard.WriteAll

// Focus positions: browser, version, one per semantic group, then the raw
// spec text.
const (
	focusBrowser = 0
	focusVersion = 1
	firstGroup   = 2
)

// Builder edits a product spec through separate fields. Changing a semantic
// field rewrites the spec's labels; editing the spec text re-derives every
// field from it.
type Builder struct {
	catalog   *labels.Catalog
	groups    []labels.Group
	selection *labels.Selection

	spec    productspec.ProductSpec
	browser textinput.Model
	version textinput.Model
	text    textinput.Model

	focus     int
	err       error
	status    string
	done      bool
	cancelled bool

	styles Styles
	width  int
}

// NewBuilder starts a builder from initial, using catalog for the semantic
// groups and display names.
func NewBuilder(catalog *labels.Catalog, initial productspec.ProductSpec) Builder {
	if catalog == nil {
		catalog = labels.DefaultCatalog()
	}
	groups := catalog.Groups()

	newInput := func(placeholder string) textinput.Model {
		ti := textinput.New()
		ti.Prompt = ""
		ti.Placeholder = placeholder
		ti.CharLimit = 256
		return ti
	}

	m := Builder{
		catalog:   catalog,
		groups:    groups,
		selection: labels.NewSelection(groups),
		spec:      initial.WithLabels(initial.Labels...),
		browser:   newInput(strings.Join(catalog.DefaultBrowsers(), ", ")),
		version:   newInput("any version"),
		text:      newInput("browser[-version][labels][@revision]"),
		styles:    DefaultStyles(),
	}
	m.browser.SetValue(initial.BrowserName)
	m.version.SetValue(initial.BrowserVersion)
	m.text.SetValue(initial.String())
	m.selection.Sync(m.spec.Labels)
	m.browser.Focus()
	return m
}

// Spec returns the spec as currently edited.
func (m Builder) Spec() productspec.ProductSpec {
	return m.spec
}

// Result returns the accepted spec, and false if the builder was cancelled
// or is still running.
func (m Builder) Result() (productspec.ProductSpec, bool) {
	return m.spec, m.done && !m.cancelled
}

// Err returns the current spec text parse error, if any.
func (m Builder) Err() error {
	return m.err
}

// Init initializes the model.
func (m Builder) Init() tea.Cmd {
	return textinput.Blink
}

func (m Builder) fieldCount() int {
	return firstGroup + len(m.groups) + 1
}

func (m Builder) focusText() int {
	return m.fieldCount() - 1
}

func (m Builder) focusedGroup() (labels.Group, bool) {
	i := m.focus - firstGroup
	if i < 0 || i >= len(m.groups) {
		return labels.Group{}, false
	}
	return m.groups[i], true
}

// Update handles messages.
func (m Builder) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "enter":
			if m.err != nil || m.spec.BrowserName == "" {
				m.status = "spec is incomplete"
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		case "tab", "down":
			return m, m.setFocus((m.focus + 1) % m.fieldCount())
		case "shift+tab", "up":
			return m, m.setFocus((m.focus + m.fieldCount() - 1) % m.fieldCount())
		case "ctrl+y":
			if err := clipboardWriteAll(m.spec.String()); err != nil {
				m.status = "failed to copy spec"
			} else {
				m.status = fmt.Sprintf("copied %s", m.spec)
			}
			return m, nil
		}

		if g, ok := m.focusedGroup(); ok {
			switch msg.String() {
			case "right", "l", " ":
				m.cycle(g, 1)
			case "left", "h":
				m.cycle(g, -1)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusBrowser:
		before := m.browser.Value()
		m.browser, cmd = m.browser.Update(msg)
		if m.browser.Value() != before {
			cmd = tea.Batch(cmd, m.applyBrowser())
		}
	case focusVersion:
		before := m.version.Value()
		m.version, cmd = m.version.Update(msg)
		if m.version.Value() != before {
			value := strings.TrimSpace(m.version.Value())
			if err := checkField("version", value); err != nil {
				m.err = err
				break
			}
			m.spec.BrowserVersion = value
			m.refreshText()
		}
	case m.focusText():
		before := m.text.Value()
		m.text, cmd = m.text.Update(msg)
		if m.text.Value() != before {
			m.applyText()
		}
	}
	return m, cmd
}

func (m *Builder) setFocus(i int) tea.Cmd {
	m.focus = i
	m.browser.Blur()
	m.version.Blur()
	m.text.Blur()
	switch i {
	case focusBrowser:
		return m.browser.Focus()
	case focusVersion:
		return m.version.Focus()
	case m.focusText():
		return m.text.Focus()
	}
	return nil
}

// cycle moves a semantic field to its next or previous value, with Any as
// the first option, and rewrites the labels to match.
func (m *Builder) cycle(g labels.Group, step int) {
	options := append([]string{labels.Any}, g.Values...)
	i := slices.Index(options, m.selection.Value(g.Field))
	if i < 0 {
		i = 0
	}
	next := options[(i+step+len(options))%len(options)]

	updated, changed := m.selection.Set(m.spec.Labels, g.Field, next)
	if changed {
		m.spec = m.spec.WithLabels(updated...)
	}
	logging.UIDebug("%s -> %s (labels changed: %v)", g.Field, next, changed)
	m.refreshText()
}

// applyBrowser copies the browser field into the spec. A dash starts the
// version, so "chrome-90" is split across both fields the same way the spec
// text parses it, and editing continues in the version field.
func (m *Builder) applyBrowser() tea.Cmd {
	value := strings.TrimSpace(m.browser.Value())
	if err := checkField("browser", value); err != nil {
		m.err = err
		return nil
	}
	p := productspec.ParseProduct(value)
	m.spec.BrowserName = p.BrowserName
	if p.BrowserName == value {
		m.refreshText()
		return nil
	}

	m.browser.SetValue(p.BrowserName)
	if p.BrowserVersion != "" {
		m.spec.BrowserVersion = p.BrowserVersion
		m.version.SetValue(p.BrowserVersion)
	}
	m.version.CursorEnd()
	m.refreshText()
	logging.UIDebug("browser input split into %s", m.spec.Product)
	return m.setFocus(focusVersion)
}

// checkField rejects spec delimiters in a browser or version field.
func checkField(field, value string) error {
	if i := strings.IndexAny(value, "[]@"); i >= 0 {
		return &productspec.MalformedSpecError{
			Spec:   value,
			Reason: fmt.Sprintf("%q is not allowed in the %s", value[i], field),
		}
	}
	return nil
}

// refreshText rewrites the spec text from the structured fields.
func (m *Builder) refreshText() {
	m.err = nil
	m.status = ""
	m.text.SetValue(m.spec.String())
	m.text.CursorEnd()
}

// applyText parses the spec text and, when valid, re-derives every field.
func (m *Builder) applyText() {
	m.status = ""
	spec, err := productspec.Parse(m.text.Value())
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.spec = spec
	m.browser.SetValue(spec.BrowserName)
	m.version.SetValue(spec.BrowserVersion)
	if updates := m.selection.Sync(spec.Labels); len(updates) > 0 {
		logging.UIDebug("fields synced from spec text: %v", updates)
	}
}

// View renders the builder.
func (m Builder) View() string {
	s := m.styles
	var rows []string

	label := func(i int, name string) string {
		if m.focus == i {
			return s.Focused.Render(name)
		}
		return s.Label.Render(name)
	}

	rows = append(rows, s.Title.Render("Product builder"))
	rows = append(rows, label(focusBrowser, "browser")+m.browser.View())
	rows = append(rows, label(focusVersion, "version")+m.version.View())
	for i, g := range m.groups {
		value := m.selection.Value(g.Field)
		rendered := s.Value.Render(m.catalog.DisplayName(value))
		if m.focus == firstGroup+i {
			rendered = s.Focused.UnsetWidth().Render("< " + m.catalog.DisplayName(value) + " >")
		}
		rows = append(rows, label(firstGroup+i, g.Field)+rendered)
	}
	rows = append(rows, label(m.focusText(), "spec")+m.text.View())

	summary := m.spec.String()
	if m.spec.BrowserName != "" {
		display := m.catalog.DisplayName(m.spec.BrowserName)
		if m.spec.BrowserVersion != "" {
			display += " " + m.catalog.ShortVersion(m.spec.BrowserName, m.spec.BrowserVersion)
		}
		if len(m.spec.Labels) > 0 {
			display += " (" + m.catalog.DisplayLabels(m.spec.Labels) + ")"
		}
		summary = lipgloss.JoinVertical(lipgloss.Left, s.Value.Bold(true).Render(summary), s.Muted.Render(display))
	}
	rows = append(rows, s.Spec.Render(summary))

	switch {
	case m.err != nil:
		rows = append(rows, s.Error.Render(m.err.Error()))
	case m.status != "":
		rows = append(rows, s.Success.Render(m.status))
	}
	rows = append(rows, s.Help.Render("tab/shift+tab move  ←/→ change  ctrl+y copy  enter accept  esc cancel"))

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Run shows the builder until the user accepts or cancels. ok is false when
// cancelled.
func Run(ctx context.Context, catalog *labels.Catalog, initial productspec.ProductSpec, opts ...tea.ProgramOption) (spec productspec.ProductSpec, ok bool, err error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewBuilder(catalog, initial), opts...).Run()
	if err != nil {
		return productspec.ProductSpec{}, false, err
	}
	spec, ok = final.(Builder).Result()
	return spec, ok, nil
}
