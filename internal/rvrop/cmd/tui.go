package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"

	"rvrop/internal/gadget"
	"rvrop/internal/rvrop/styles"
	"rvrop/internal/search"
	"rvrop/internal/ui/colorize"
)

type viewMode int

const (
	viewGadgets viewMode = iota
	viewDetail
	viewSummary
)

// contextInsns is how many instructions past a gadget the detail view shows.
const contextInsns = 8

type gadgetItem struct {
	g          *gadget.Gadget
	text       string
	symbol     string
	filterTerm string // Pre-computed filter value
}

func (i gadgetItem) FilterValue() string { return i.filterTerm }

// Custom item delegate for the gadget list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(gadgetItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := styles.AddrNormal
	if index == m.Index() {
		indicator = ">"
		addrStyle = styles.AddrSelected
	}

	str := fmt.Sprintf(" %s  %s  %s", indicator, addrStyle.Render(fmt.Sprintf("%08x", i.g.Addr())), i.text)
	if i.symbol != "" {
		str += "  " + styles.Symbol.Render("<"+i.symbol+">")
	}
	fmt.Fprint(w, str)
}

type model struct {
	ctx         context.Context
	session     *session
	filepath    string
	gadgetsList list.Model
	detail      viewport.Model
	summary     viewport.Model
	spinner     spinner.Model
	mode        viewMode
	result      *search.Result
	err         error
	searching   bool
	width       int
	height      int
}

type searchDoneMsg struct {
	result *search.Result
	err    error
}

func searchCmd(ctx context.Context, s *session) tea.Cmd {
	return func() tea.Msg {
		res, err := s.search(ctx)
		return searchDoneMsg{result: res, err: err}
	}
}

func NewModel(ctx context.Context, filepath string, s *session) model {
	if ctx == nil {
		ctx = context.Background()
	}

	gadgetsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	gadgetsList.SetShowStatusBar(false)
	gadgetsList.SetFilteringEnabled(true)
	gadgetsList.Title = "Gadgets"
	gadgetsList.Styles.Title = styles.ListTitle
	gadgetsList.SetShowHelp(true)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	detail := viewport.New()
	detail.SetWidth(80)
	detail.SetHeight(24)
	summary := viewport.New()
	summary.SetWidth(80)
	summary.SetHeight(24)

	m := model{
		ctx:         ctx,
		session:     s,
		filepath:    filepath,
		gadgetsList: gadgetsList,
		detail:      detail,
		summary:     summary,
		spinner:     sp,
		mode:        viewGadgets,
		searching:   true,
		width:       80,
		height:      24,
	}
	m.updateSummary()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		searchCmd(m.ctx, m.session),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case searchDoneMsg:
		m.searching = false
		m.result = msg.result
		m.err = msg.err
		if msg.err == nil {
			m.updateGadgetsList()
		}
		m.updateSummary()
		return m, nil

	case spinner.TickMsg:
		if !m.searching {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateSummary()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.gadgetsList.SetWidth(msg.Width)
			m.gadgetsList.SetHeight(msg.Height - 2)
			m.detail.SetWidth(msg.Width)
			m.detail.SetHeight(msg.Height - 2)
			m.summary.SetWidth(msg.Width)
			m.summary.SetHeight(msg.Height - 2)
			m.updateSummary()
		}

	case tea.KeyMsg:
		// Let the list handle keys while the user is typing a filter
		if m.mode == viewGadgets && m.gadgetsList.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.mode = viewGadgets
			return m, nil
		case "s":
			m.mode = viewSummary
			return m, nil
		case "esc":
			if m.mode == viewDetail {
				m.mode = viewGadgets
				return m, nil
			}
		case "enter":
			if m.mode == viewGadgets {
				if item, ok := m.gadgetsList.SelectedItem().(gadgetItem); ok {
					m.detail.SetContent(m.gadgetDetail(item))
					m.detail.GotoTop()
					m.mode = viewDetail
				}
			}
			return m, nil
		case "tab":
			m.mode = (m.mode + 1) % 3
			return m, nil
		case "shift+tab":
			m.mode = (m.mode + 2) % 3
			return m, nil
		}
	}

	switch m.mode {
	case viewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case viewSummary:
		m.summary, cmd = m.summary.Update(msg)
	default:
		m.gadgetsList, cmd = m.gadgetsList.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewDetail:
		content = m.detail.View()
		menu = " Esc: back • S: summary • Tab: cycle • Q: quit "
	case viewSummary:
		content = m.summary.View()
		menu = " G: gadgets • Tab: cycle • Q: quit "
	default:
		if m.searching {
			content = fmt.Sprintf("\n  %s Searching for gadgets...", m.spinner.View())
		} else {
			content = m.gadgetsList.View()
		}
		menu = " Enter: details • /: filter • S: summary • Tab: cycle • Q: quit "
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}

func (m *model) updateGadgetsList() {
	items := make([]list.Item, 0, len(m.result.Gadgets))
	for _, g := range m.result.Gadgets {
		text := gadgetText(g)
		sym := m.session.img.Describe(g.Addr())
		items = append(items, gadgetItem{
			g:          g,
			text:       text,
			symbol:     sym,
			filterTerm: fmt.Sprintf("%x %s %s", g.Addr(), text, sym),
		})
	}
	m.gadgetsList.SetItems(items)
	m.gadgetsList.Title = fmt.Sprintf("Gadgets (%d total)", len(items))
}

// gadgetDetail shows the gadget in block form followed by the code after it.
func (m *model) gadgetDetail(item gadgetItem) string {
	var b strings.Builder
	if item.symbol != "" {
		fmt.Fprintf(&b, "; %s\n", item.symbol)
	}
	fmt.Fprintf(&b, "; hash %08x, %d instructions\n\n", item.g.Hash(), item.g.Len())
	gadget.DefaultRenderer().Write(&b, item.g, gadget.Block)

	term := item.g.Terminator()
	next := term.Addr + uint64(len(term.Bytes))
	if lines, err := disassemble(m.session.img, m.session.dec, next, contextInsns); err == nil {
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(colorize.ColorizeInstructionLine(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *model) updateSummary() {
	var md string
	switch {
	case m.err != nil:
		md = fmt.Sprintf("# rvrop\n\nSearch failed: `%v`\n", m.err)
	case m.result != nil:
		md = statsMarkdown(m.filepath, string(m.session.dec.Arch()), m.result.Stats)
	default:
		md = fmt.Sprintf("# rvrop\n\n%s Searching...\n", m.spinner.View())
	}

	width := m.width
	if width == 0 {
		width = 80
	}
	renderer, err := styles.GetMarkdownRenderer(width - 2)
	if err != nil {
		m.summary.SetContent(md)
		return
	}
	rendered, _ := renderer.Render(md)
	m.summary.SetContent(strings.TrimSuffix(rendered, "\n"))
}
