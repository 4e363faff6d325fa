// Package tui provides the Bubble Tea dashboard.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/skillcast/internal/event"
	"github.com/verte-zerg/skillcast/internal/model"
	"github.com/verte-zerg/skillcast/internal/readiness"
)

const maxLogLines = 500

// Controller is the engine surface the dashboard drives.
type Controller interface {
	Toggle()
	Running() bool
	StartCalibration() bool
	Save() error
	SetProfile(name string) error
	Profiles() []string
	CurrentProfile() string
	CurrentSkills() []model.SkillAction
	AddSkill(name, key string, delay int) (model.SkillAction, error)
	DeleteSkillByIndex(index int) error
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(event.ColorReady)).Bold(true)
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B0B0B0"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	logStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

type eventMsg event.Event

type busClosedMsg struct{}

// Model implements the dashboard.
type Model struct {
	ctrl   Controller
	events <-chan event.Event

	width  int
	height int

	running      bool
	overlayText  string
	overlayColor string
	profile      string
	slots        int
	skills       []model.SkillAction
	statuses     []model.SkillStatus

	skillTable table.Model
	logs       []string
	logView    viewport.Model

	addMode  bool
	addInput textinput.Model
	errMsg   string
}

// NewModel constructs a dashboard fed by events. slots is the number of
// calibrated slots at startup.
func NewModel(ctrl Controller, events <-chan event.Event, slots int) *Model {
	m := &Model{
		ctrl:         ctrl,
		events:       events,
		running:      ctrl.Running(),
		overlayText:  "READY",
		overlayColor: event.ColorReady,
		slots:        slots,
		logView:      viewport.New(0, 0),
	}
	m.skillTable = table.New(
		table.WithColumns(skillColumns()),
		table.WithFocused(true),
		table.WithHeight(1),
	)
	m.skillTable.SetStyles(skillTableStyles())
	m.addInput = textinput.New()
	m.addInput.Prompt = "Add skill: "
	m.addInput.Placeholder = "name key delay"
	m.addInput.Cursor.SetMode(cursor.CursorBlink)
	m.refreshSkills()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(ch <-chan event.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		return m, nil
	case eventMsg:
		m.applyEvent(event.Event(msg))
		return m, waitForEvent(m.events)
	case busClosedMsg:
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.addMode {
			return m.updateAdd(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.errMsg = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", " ":
		m.ctrl.Toggle()
		m.running = m.ctrl.Running()
		return m, nil
	case "c":
		m.ctrl.StartCalibration()
		return m, nil
	case "s":
		if err := m.ctrl.Save(); err != nil {
			m.errMsg = err.Error()
		}
		return m, nil
	case "tab":
		m.nextProfile()
		return m, nil
	case "x":
		if len(m.skills) == 0 {
			return m, nil
		}
		if err := m.ctrl.DeleteSkillByIndex(m.skillTable.Cursor()); err != nil {
			m.errMsg = err.Error()
		}
		m.refreshSkills()
		return m, nil
	case "a":
		m.addMode = true
		m.addInput.SetValue("")
		return m, m.addInput.Focus()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.skillTable, cmd = m.skillTable.Update(msg)
	return m, cmd
}

func (m *Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.addMode = false
		m.errMsg = ""
		m.addInput.Blur()
		return m, nil
	case tea.KeyEnter:
		name, key, delay, err := parseAddInput(m.addInput.Value())
		if err == nil {
			_, err = m.ctrl.AddSkill(name, key, delay)
		}
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.addMode = false
		m.errMsg = ""
		m.addInput.Blur()
		m.refreshSkills()
		m.skillTable.GotoBottom()
		return m, nil
	}
	var cmd tea.Cmd
	m.addInput, cmd = m.addInput.Update(msg)
	return m, cmd
}

// parseAddInput splits "name key delay". The name may contain spaces.
func parseAddInput(input string) (name, key string, delay int, err error) {
	fields := strings.Fields(input)
	if len(fields) < 3 {
		return "", "", 0, fmt.Errorf("expected: name key delay")
	}
	delay, err = strconv.Atoi(fields[len(fields)-1])
	if err != nil || delay < 0 {
		return "", "", 0, fmt.Errorf("delay must be a non-negative number of milliseconds")
	}
	key = fields[len(fields)-2]
	name = strings.Join(fields[:len(fields)-2], " ")
	return name, key, delay, nil
}

func (m *Model) nextProfile() {
	profiles := m.ctrl.Profiles()
	if len(profiles) < 2 {
		return
	}
	idx := 0
	for i, name := range profiles {
		if name == m.ctrl.CurrentProfile() {
			idx = (i + 1) % len(profiles)
			break
		}
	}
	if err := m.ctrl.SetProfile(profiles[idx]); err != nil {
		m.errMsg = err.Error()
	}
	m.refreshSkills()
	m.skillTable.GotoTop()
}

func (m *Model) applyEvent(ev event.Event) {
	switch ev.Kind {
	case event.KindLog:
		m.appendLog(ev.Time.Format("15:04:05") + " " + ev.Message)
	case event.KindStatus:
		m.running = ev.Running
	case event.KindOverlay:
		m.overlayText = ev.Text
		m.overlayColor = ev.Color
	case event.KindCoords:
		m.slots = len(ev.Coords)
		m.refreshSkills()
	case event.KindSnapshot:
		m.statuses = ev.Skills
		m.skillTable.SetRows(m.buildRows())
	}
}

func (m *Model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.renderLogs()
}

func (m *Model) renderLogs() {
	wrapped := make([]string, 0, len(m.logs))
	for _, line := range m.logs {
		wrapped = append(wrapped, wrapText(line, m.logView.Width))
	}
	m.logView.SetContent(logStyle.Render(strings.Join(wrapped, "\n")))
	m.logView.GotoBottom()
}

// refreshSkills reloads the active profile. Verdicts from the previous
// profile no longer apply and are cleared.
func (m *Model) refreshSkills() {
	profile := m.ctrl.CurrentProfile()
	if profile != m.profile {
		m.statuses = nil
	}
	m.profile = profile
	m.skills = m.ctrl.CurrentSkills()
	m.skillTable.SetRows(m.buildRows())
	m.updateLayout()
}

func (m *Model) buildRows() []table.Row {
	rows := make([]table.Row, 0, len(m.skills))
	for i, skill := range m.skills {
		rows = append(rows, table.Row{
			strconv.Itoa(i + 1),
			skill.Name,
			skill.Key,
			strconv.Itoa(skill.Delay),
			readiness.Describe(skill),
			m.stateOf(i, skill),
		})
	}
	return rows
}

func (m *Model) stateOf(i int, skill model.SkillAction) string {
	if i >= len(m.statuses) {
		return "-"
	}
	st := m.statuses[i]
	if st.Name != skill.Name || st.Key != skill.Key {
		return "-"
	}
	return st.State.String()
}

func skillColumns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 3},
		{Title: "Skill", Width: 22},
		{Title: "Key", Width: 4},
		{Title: "Delay", Width: 6},
		{Title: "Reference", Width: 16},
		{Title: "State", Width: 9},
	}
}

func skillTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func (m *Model) layoutHeights() (tableHeight, logHeight int) {
	// header, overlay and footer lines
	const fixed = 3
	avail := m.height - fixed
	if avail < 4 {
		avail = 4
	}
	tableHeight = len(m.skills) + 1
	if tableHeight < 2 {
		tableHeight = 2
	}
	if limit := avail / 2; tableHeight > limit {
		tableHeight = limit
	}
	logHeight = avail - tableHeight - 2
	if logHeight < 1 {
		logHeight = 1
	}
	return tableHeight, logHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	tableHeight, logHeight := m.layoutHeights()
	m.skillTable.SetWidth(m.width)
	m.skillTable.SetHeight(tableHeight)
	m.logView.Width = m.width
	m.logView.Height = logHeight
	m.addInput.Width = m.width - lipgloss.Width(m.addInput.Prompt) - 1
	m.renderLogs()
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	_, logHeight := m.layoutHeights()
	parts := []string{
		fitLines(m.renderHeader(), m.width, 1),
		fitLines(m.renderOverlay(), m.width, 1),
		m.skillTable.View(),
		fitLines(m.logView.View(), m.width, logHeight),
		fitLines(m.renderFooter(), m.width, 1),
	}
	return fitLines(strings.Join(parts, "\n"), m.width, m.height)
}

func (m *Model) renderHeader() string {
	status := stoppedStyle.Render("STOPPED")
	if m.running {
		status = runningStyle.Render("RUNNING")
	}
	info := fmt.Sprintf("Profile: %s  Slots: %d/%d", m.profile, m.slots, len(model.SlotKeys))
	return titleStyle.Render("skillcast") + "  " + status + "  " + headerStyle.Render(truncateLine(info, m.width-20))
}

func (m *Model) renderOverlay() string {
	style := lipgloss.NewStyle().Bold(true)
	if m.overlayColor != "" {
		style = style.Foreground(lipgloss.Color(m.overlayColor))
	}
	return style.Render(truncateLine(m.overlayText, m.width))
}

func (m *Model) renderFooter() string {
	if m.addMode {
		if m.errMsg != "" {
			return m.addInput.View() + "  " + errorStyle.Render(m.errMsg)
		}
		return m.addInput.View()
	}
	if m.errMsg != "" {
		return errorStyle.Render(truncateLine(m.errMsg, m.width))
	}
	return footerStyle.Render(truncateLine("enter start/stop  c calibrate  s save  tab profile  a add  x delete  q quit", m.width))
}
