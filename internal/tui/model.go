// Package tui is a terminal sidebar for one planner session: it lists the returned
// itineraries, lets the user pick one and toggles the common search options.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transit-planner/internal/controller"
	"transit-planner/internal/models"
)

const updateBuffer = 16

type snapshotMsg controller.Snapshot

type resultMsg struct {
	status string
	err    error
}

// Model is the bubbletea model of the sidebar
type Model struct {
	ctrl    *controller.Controller
	updates chan controller.Snapshot
	snap    controller.Snapshot
	cursor  int
	status  string
	err     error
	width   int
}

// New creates a sidebar model and subscribes it to ctrl. The returned function ends
// the subscription.
func New(ctrl *controller.Controller) (Model, func()) {
	updates := make(chan controller.Snapshot, updateBuffer)
	unsubscribe := ctrl.Subscribe(subscriber(updates))
	snap := ctrl.Snapshot()
	return Model{
		ctrl:    ctrl,
		updates: updates,
		snap:    snap,
		cursor:  max(snap.Routes.SelectedRouteIndex, 0),
	}, unsubscribe
}

// subscriber forwards snapshots to updates without blocking the controller. When the
// buffer is full the oldest queued snapshot makes room, so the latest one always
// reaches the model. Snapshots older than one already forwarded are skipped.
func subscriber(updates chan controller.Snapshot) func(controller.Snapshot) {
	var mu sync.Mutex
	var latest uint64
	return func(s controller.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Version < latest {
			return
		}
		latest = s.Version

		select {
		case updates <- s:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- s:
		default:
		}
	}
}

// Run shows the sidebar until the user quits
func Run(ctx context.Context, ctrl *controller.Controller) error {
	m, unsubscribe := New(ctrl)
	defer unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.waitForSnapshot()
}

func (m Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		return snapshotMsg(<-updates)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case snapshotMsg:
		m.applySnapshot(controller.Snapshot(msg))
		return m, m.waitForSnapshot()

	case resultMsg:
		m.status, m.err = msg.status, msg.err
		m.applySnapshot(m.ctrl.Snapshot())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applySnapshot keeps the newest snapshot; deliveries may arrive out of order
func (m *Model) applySnapshot(s controller.Snapshot) {
	if s.Version < m.snap.Version {
		return
	}
	changedPaths := s.Routes.Query != m.snap.Routes.Query || s.Routes.IsFetching != m.snap.Routes.IsFetching
	m.snap = s
	if changedPaths {
		m.cursor = max(s.Routes.SelectedRouteIndex, 0)
	}
	if m.cursor >= len(s.Routes.Paths) {
		m.cursor = max(len(s.Routes.Paths)-1, 0)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Routes.Paths)-1 {
			m.cursor++
		}

	case "enter", " ":
		if err := m.ctrl.SelectRoute(m.cursor); err != nil {
			m.status, m.err = "", err
		} else {
			m.status, m.err = fmt.Sprintf("route %d selected", m.cursor+1), nil
		}
		m.applySnapshot(m.ctrl.Snapshot())

	case "t":
		m.ctrl.UpdateSearch(func(s *models.SearchState) { s.IgnoreTransfers = !s.IgnoreTransfers })
		m.applySnapshot(m.ctrl.Snapshot())
		m.status, m.err = "press s to search again", nil
	case "a":
		m.ctrl.UpdateSearch(func(s *models.SearchState) { s.TimeOption = nextTimeOption(s.TimeOption) })
		m.applySnapshot(m.ctrl.Snapshot())
		m.status, m.err = "press s to search again", nil
	case "+", "-":
		step := 15 * time.Minute
		if msg.String() == "-" {
			step = -step
		}
		m.ctrl.UpdateSearch(func(s *models.SearchState) { s.DepartureDateTime = s.DepartureDateTime.Add(step) })
		m.applySnapshot(m.ctrl.Snapshot())
		m.status, m.err = "press s to search again", nil

	case "s":
		m.status, m.err = "searching…", nil
		return m, m.submit()
	}
	return m, nil
}

func (m Model) submit() tea.Cmd {
	ctrl := m.ctrl
	req := controller.SubmitRequest{From: m.snap.Search.From, To: m.snap.Search.To}
	return func() tea.Msg {
		ctx := context.Background()
		if err := ctrl.Submit(ctx, req); err != nil {
			return resultMsg{err: err}
		}
		if err := ctrl.Wait(ctx); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{status: "search finished"}
	}
}

func nextTimeOption(t models.TimeOption) models.TimeOption {
	switch t {
	case models.TimeOptionDeparture:
		return models.TimeOptionArrival
	case models.TimeOptionArrival:
		return models.TimeOptionRange
	default:
		return models.TimeOptionDeparture
	}
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Transit Planner"))
	b.WriteString("\n\n")

	if !m.snap.Ready {
		b.WriteString(errorStyle.Render("The routing service is not available."))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	b.WriteString(m.searchView())
	b.WriteString("\n")
	b.WriteString(m.routesView())
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter select • s search • a time option • +/- 15 min • t transfers • q quit"))
	return b.String()
}

func (m Model) searchView() string {
	s := m.snap.Search
	rows := [][2]string{
		{"From", describeLocation(s.From)},
		{"To", describeLocation(s.To)},
		{string(s.TimeOption), s.DepartureDateTime.UTC().Format("Mon 02 Jan 15:04")},
		{"Profiles", s.AccessProfile + " / " + s.EgressProfile},
	}
	if s.IgnoreTransfers {
		rows = append(rows, [2]string{"Transfers", "ignored"})
	}

	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = labelStyle.Render(r[0]) + valueStyle.Render(r[1])
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m Model) routesView() string {
	r := m.snap.Routes
	switch {
	case r.IsFetching:
		return statusStyle.Render("Searching for routes…")
	case r.IsLastQuerySuccess != nil && !*r.IsLastQuerySuccess:
		return warnStyle.Render("The routing service rejected this search.")
	case r.IsLastQuerySuccess == nil:
		return helpStyle.Render("No search yet.")
	case len(r.Paths) == 0:
		return helpStyle.Render("No routes found.")
	}

	blocks := make([]string, len(r.Paths))
	for i, p := range r.Paths {
		blocks[i] = m.renderPath(i, p)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (m Model) renderPath(i int, p models.Path) string {
	marker := "  "
	if p.IsSelected {
		marker = selectedStyle.Render("● ")
	}
	summary := fmt.Sprintf("%s–%s  %s  %d transfers",
		clock(p.DepartureTime()), clock(p.ArrivalTime()), duration(p.Duration()), p.Transfers)
	if !p.IsPossible {
		summary = impossible.Render(summary)
	}

	content := marker + summary
	if p.IsSelected {
		for _, leg := range p.Legs {
			content += "\n" + legStyle.Render(fmt.Sprintf("%s %s", clock(leg.DepartureTime), legLabel(leg)))
		}
	}

	style := routeStyle
	if i == m.cursor {
		style = cursorStyle
	}
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(content)
}

func describeLocation(l models.Location) string {
	if c, ok := l.Coords(); ok {
		return c.String()
	}
	if t := l.Text(); t != "" {
		return t + " (unresolved)"
	}
	return "-"
}

func legLabel(l models.Leg) string {
	if l.Type == "pt" && l.TripHeadsign != "" {
		return "towards " + l.TripHeadsign
	}
	if l.DepartureLocation != "" {
		return l.Type + " from " + l.DepartureLocation
	}
	return l.Type
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.UTC().Format("15:04")
}

func duration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Hour {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return fmt.Sprintf("%dh %02dmin", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}
