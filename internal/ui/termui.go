package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/models"
)

const (
	maxLogs      = 50
	maxDecisions = 10
	logTimeFmt   = "02.01.2006 - 15:04:05.999999999Z07:00"
)

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)

	ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// Source состояние бота для отображения
type Source interface {
	Positions() []models.Position
	Decisions(symbol string, limit int) []models.Decision
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// TermUI терминальная панель позиций, решений и логов
type TermUI struct {
	source  Source
	refresh time.Duration
	logFile string
}

type tickMsg time.Time

// snapshot данные одного кадра
type snapshot struct {
	positions []models.Position
	prices    map[string]decimal.Decimal
	decisions []models.Decision
	logs      []string
}

type model struct {
	ui       *TermUI
	data     snapshot
	selected int
	width    int
	height   int
}

// NewTermUI создает панель. Логи читаются из JSON-файла логгера.
func NewTermUI(cfg config.UIConfig, logFile string, source Source) *TermUI {
	refresh := time.Duration(cfg.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	return &TermUI{
		source:  source,
		refresh: refresh,
		logFile: logFile,
	}
}

// Run показывает панель до выхода пользователя или отмены контекста
func (ui *TermUI) Run(ctx context.Context) error {
	m := model{ui: ui, width: 120, height: 40}
	m.data = ui.collect()

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

func (ui *TermUI) collect() snapshot {
	positions := ui.source.Positions()
	prices := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		if price, ok := ui.source.LastPrice(p.Symbol); ok {
			prices[p.Symbol] = price
		}
	}

	logs, err := loadLogs(ui.logFile)
	if err != nil {
		logs = []string{fmt.Sprintf("Ошибка загрузки логов: %v", err)}
	}

	return snapshot{
		positions: positions,
		prices:    prices,
		decisions: ui.source.Decisions("", maxDecisions),
		logs:      logs,
	}
}

func (ui *TermUI) tick() tea.Cmd {
	return tea.Tick(ui.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return m.ui.tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.selected = max(0, m.selected-1)
		case "down":
			m.selected = max(0, min(len(m.data.positions)-1, m.selected+1))
		case "r":
			m.data = m.ui.collect()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.data = m.ui.collect()
		return m, m.ui.tick()
	}

	return m, nil
}

func (m model) View() string {
	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("SMC Bot - Smart Money Concepts"),
			"\n",
			renderPositions(m.data.positions, m.data.prices, m.selected),
			"\n",
			renderDecisions(m.data.decisions),
			"\n",
			renderLogs(m.data.logs),
			"\n",
			footerStyle.Render("Клавиши: ↑/↓ - навигация, R - обновить, Q - выход"),
		),
	)
}

func section(title, body string) string {
	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headerStyle.Render(title),
			body,
		),
	)
}

func renderPositions(positions []models.Position, prices map[string]decimal.Decimal, selected int) string {
	var content strings.Builder

	if len(positions) == 0 {
		content.WriteString("  Открытых позиций нет\n")
	}
	for i, p := range positions {
		line := fmt.Sprintf("  %-10s %s вход %s SL %s TP %s", p.Symbol, directionText(p.Direction), p.Entry, p.SL, p.TP)
		if price, ok := prices[p.Symbol]; ok {
			line += fmt.Sprintf(" цена %s", price)
		}

		var flags []string
		if p.MSSTriggered {
			flags = append(flags, "MSS")
		}
		if p.ProtectiveLevel != nil {
			flags = append(flags, "защита "+p.ProtectiveLevel.String())
		}
		if p.HalfExit {
			flags = append(flags, "50% зафиксировано")
		}
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ", ") + "]"
		}

		if i == selected {
			line = "> " + line[2:]
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render(line)
		}
		content.WriteString(line + "\n")
	}

	return section("ПОЗИЦИИ", content.String())
}

func renderDecisions(decisions []models.Decision) string {
	var content strings.Builder

	if len(decisions) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}
	for _, d := range decisions {
		ts := d.Time.Format("15:04:05")
		if d.Accepted {
			zone := ""
			if d.Trigger != nil {
				zone = fmt.Sprintf(" %s %s-%s", d.Trigger.Kind, d.Trigger.Low, d.Trigger.High)
			}
			line := fmt.Sprintf("  [%s] %-10s ВХОД %s по %s%s", ts, d.Symbol, directionText(d.Direction), d.Price, zone)
			content.WriteString(line + "\n")
			continue
		}
		line := fmt.Sprintf("  [%s] %-10s %s: %s", ts, d.Symbol, d.Step, d.Reason)
		content.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")).Render(line) + "\n")
	}

	return section("РЕШЕНИЯ", content.String())
}

func renderLogs(logs []string) string {
	var content strings.Builder

	start := max(0, len(logs)-maxLogs)
	for _, line := range logs[start:] {
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		case strings.Contains(line, "[WARN]"):
			line = lipgloss.NewStyle().Foreground(warningColor).Render(line)
		case strings.Contains(line, "[DEBUG]"):
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(line)
		}
		content.WriteString("  " + line + "\n")
	}

	return section("ЛОГИ", content.String())
}

func directionText(d models.Direction) string {
	if d == models.Short {
		return lipgloss.NewStyle().Foreground(errorColor).Render("SHORT")
	}
	return lipgloss.NewStyle().Foreground(successColor).Render("LONG")
}

// loadLogs читает последние записи JSON-лога
func loadLogs(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

// formatLogLine превращает JSON-запись zap в строку "[время] [уровень] сообщение (поля)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse(logTimeFmt, ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := fmt.Sprintf("[%s] [%s] %s", timestamp, strings.ToUpper(level), msg)
	for _, k := range keys {
		out += fmt.Sprintf(" (%s: %v)", k, entry[k])
	}
	return out
}
