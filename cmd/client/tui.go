package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/session"
)

const (
	pollEvery = 100 * time.Millisecond
	diagRows  = 8
)

// ── messages ──────────────────────────────────────────────────────────────────

type tickMsg time.Time

func poll() tea.Cmd {
	return tea.Tick(pollEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// ── model ─────────────────────────────────────────────────────────────────────

type model struct {
	ctx  context.Context
	ctrl *session.Controller

	timeframe candle.Timeframe
	interval  candle.Interval

	cursor   int
	query    string
	showDiag bool
	err      error

	width  int
	height int
}

func newModel(ctx context.Context, ctrl *session.Controller, tf candle.Timeframe, iv candle.Interval) *model {
	return &model{ctx: ctx, ctrl: ctrl, timeframe: tf, interval: iv, width: 80, height: 24}
}

// handle forwards an input to the controller and keeps the preferred
// timeframe across symbol changes.
func (m *model) handle(in session.Input) {
	m.err = nil
	if err := m.ctrl.Handle(m.ctx, in); err != nil {
		m.err = err
		return
	}
	switch in := in.(type) {
	case session.SelectSymbol, session.SearchDone:
		if h, ok := m.ctrl.State().(session.HistoricalChart); ok && h.Timeframe != m.timeframe {
			m.err = m.ctrl.Handle(m.ctx, session.ChangeTimeframe{Timeframe: m.timeframe})
		}
	case session.ChangeTimeframe:
		m.timeframe = in.Timeframe
	case session.ChangeInterval:
		m.interval = in.Interval
	}
}

// ── Init / Update / View ──────────────────────────────────────────────────────

func (m *model) Init() tea.Cmd {
	return poll()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.ctrl.Poll()
		return m, poll()

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if _, ok := m.ctrl.State().(session.SymbolSearch); ok {
			m.searchKey(msg)
			return m, nil
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "d":
			m.showDiag = !m.showDiag
			return m, nil
		case "/":
			m.query = ""
			m.handle(session.OpenSearch{})
			return m, nil
		case "H":
			m.handle(session.GoLanding{})
			return m, nil
		}
		m.stateKey(msg.String())
	}

	return m, nil
}

func (m *model) searchKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEsc:
		m.handle(session.CancelSearch{})
	case tea.KeyEnter:
		m.handle(session.SearchDone{Symbol: m.query})
		if m.err == nil {
			m.query = ""
		}
	case tea.KeyBackspace:
		if n := len(m.query); n > 0 {
			m.query = m.query[:n-1]
		}
	case tea.KeyRunes:
		m.query += strings.ToUpper(string(msg.Runes))
	}
}

func (m *model) stateKey(key string) {
	switch s := m.ctrl.State().(type) {
	case session.Landing:
		n := len(m.ctrl.View().Popular)
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < n-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < n {
				m.handle(session.SelectSymbol{Symbol: m.ctrl.View().Popular[m.cursor]})
			}
		}

	case session.HistoricalChart:
		switch key {
		case "left", "[":
			m.handle(session.ChangeTimeframe{Timeframe: s.Timeframe.Prev()})
		case "right", "]":
			m.handle(session.ChangeTimeframe{Timeframe: s.Timeframe.Next()})
		case "r":
			m.handle(session.Refresh{})
		case "l":
			m.handle(session.EnterLive{Mode: session.ModeTicker, Interval: m.interval})
		case "c":
			m.handle(session.EnterLive{Mode: session.ModeCandles, Interval: m.interval})
		case "esc":
			m.handle(session.GoLanding{})
		}

	case session.LiveTicker:
		switch key {
		case "t":
			m.handle(session.ToggleLive{})
		case "esc":
			m.handle(session.LeaveLive{})
		}

	case session.LiveCandles:
		switch key {
		case "t":
			m.handle(session.ToggleLive{})
		case "left", "[":
			m.handle(session.ChangeInterval{Interval: s.Interval.Prev()})
		case "right", "]":
			m.handle(session.ChangeInterval{Interval: s.Interval.Next()})
		case "esc":
			m.handle(session.LeaveLive{})
		}
	}
}

func (m *model) View() string {
	v := m.ctrl.View()

	var body string
	footer := ""
	switch s := v.State.(type) {
	case session.Landing:
		body = m.landingView(v)
		footer = "↑/↓ select · enter open · / search · d diagnostics · q quit"
	case session.HistoricalChart:
		body = m.historyView(v)
		footer = "←/→ timeframe · r refresh · l ticker · c live candles · / search · esc home · q quit"
	case session.LiveTicker:
		body = m.tickerView(v)
		footer = "t candles · esc back · / search · H home · d diagnostics · q quit"
	case session.LiveCandles:
		body = m.chartBox(v.Live.Candles())
		footer = "←/→ interval · t ticker · esc back · / search · H home · d diagnostics · q quit"
	case session.SymbolSearch:
		body = m.searchView(s)
		footer = "enter open · esc cancel"
	}

	parts := []string{m.header(v), body}
	if m.showDiag {
		parts = append(parts, m.diagView(v))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(errorText(m.err)))
	}
	parts = append(parts, footerStyle.Render(footer))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// ── views ─────────────────────────────────────────────────────────────────────

func (m *model) header(v session.View) string {
	if v.Symbol == "" {
		return headerStyle.Render("livecandles")
	}
	title := fmt.Sprintf("%s  %s", v.Symbol, v.Timeframe)
	switch v.State.(type) {
	case session.LiveTicker:
		title += "  ticker"
	case session.LiveCandles:
		title += "  live " + v.Interval.String()
	}
	line := headerStyle.Render(title)
	if v.HasChange {
		style := bullStyle
		if v.Change.IsNegative() {
			style = bearStyle
		}
		line += "  " + style.Render(fmt.Sprintf("%s (%s%%)", signed(v.Change.StringFixed(2)), signed(v.ChangePct.StringFixed(2))))
	}
	switch v.State.(type) {
	case session.LiveTicker, session.LiveCandles:
		line += "  " + axisStyle.Render(v.Status.Format(v.Now))
	}
	return line
}

func (m *model) landingView(v session.View) string {
	var b strings.Builder
	b.WriteString("Popular symbols\n\n")
	for i, sym := range v.Popular {
		if i == m.cursor {
			b.WriteString(selStyle.Render("› " + sym))
		} else {
			b.WriteString("  " + sym)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *model) historyView(v session.View) string {
	switch {
	case v.Loading:
		return axisStyle.Render("loading…")
	case v.FetchErr != nil:
		return errorStyle.Render(v.FetchErr.Error()) + "\n" + footerStyle.Render("press r to retry")
	}
	return m.chartBox(v.History.Candles())
}

func (m *model) chartBox(candles []candle.Candle) string {
	h := m.height - 6
	if m.showDiag {
		h -= diagRows + 2
	}
	return renderChart(candles, m.width, h)
}

func (m *model) tickerView(v session.View) string {
	var b strings.Builder
	st := v.TickStats
	fmt.Fprintf(&b, "trades %d  volume %s  last %s\n\n", st.Count, st.Volume.String(), st.LastPrice.String())

	rows := m.height - 8
	if m.showDiag {
		rows -= diagRows + 2
	}
	// Ticks are newest first.
	for i := 0; i < len(v.Ticks) && i < rows; i++ {
		t := v.Ticks[i]
		style := axisStyle
		if i+1 < len(v.Ticks) {
			switch t.Price.Cmp(v.Ticks[i+1].Price) {
			case 1:
				style = bullStyle
			case -1:
				style = bearStyle
			}
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			axisStyle.Render(t.Time.Local().Format("15:04:05.000")),
			style.Render(fmt.Sprintf("%12s", t.Price.String())),
			t.Size.String())
	}
	return b.String()
}

func (m *model) searchView(s session.SymbolSearch) string {
	prev := ""
	if sym := session.SymbolOf(s.Prev); sym != "" {
		prev = footerStyle.Render("  (from " + sym + ")")
	}
	return "Symbol: " + selStyle.Render(m.query+"█") + prev
}

func (m *model) diagView(v session.View) string {
	entries := v.Diagnostics
	if len(entries) > diagRows {
		entries = entries[len(entries)-diagRows:]
	}
	lines := make([]string, 0, diagRows)
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	if len(lines) == 0 {
		lines = append(lines, "no diagnostics")
	}
	return panelStyle.Width(max(m.width-2, 20)).Render(strings.Join(lines, "\n"))
}

func errorText(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidSymbol):
		return "invalid symbol"
	case errors.Is(err, session.ErrInvalidTransition):
		return "not available here"
	}
	return err.Error()
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}
