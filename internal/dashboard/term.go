package dashboard

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

const (
	colorConnected    = lipgloss.Color("#3cb043")
	colorDisconnected = lipgloss.Color("#c62828")
	colorLabel        = lipgloss.Color("245")

	textConnected    = "● Conectado"
	textDisconnected = "Desconectado"

	placeholder = "--"
)

var cardLabels = map[string]string{
	FieldTemperatura: "Temperatura",
	FieldPH:          "pH",
	FieldTurbidez:    "Turbidez",
	FieldHumedad:     "Humedad",
	FieldSalinidad:   "Salinidad",
}

// TermBoard renders the dashboard cards and connection status to a terminal.
// It implements Board, Flusher and StatusIndicator.
type TermBoard struct {
	mu        sync.Mutex
	out       io.Writer
	renderer  *lipgloss.Renderer
	cards     map[string]string
	connected bool
}

// NewTermBoard returns a board writing to w. Colors follow w's capabilities.
func NewTermBoard(w io.Writer) *TermBoard {
	cards := make(map[string]string, len(cardFields))
	for _, tag := range Fields() {
		cards[tag] = placeholder
	}
	return &TermBoard{
		out:      w,
		renderer: lipgloss.NewRenderer(w),
		cards:    cards,
	}
}

func (b *TermBoard) SetCard(field, text string) {
	b.mu.Lock()
	b.cards[field] = text
	b.mu.Unlock()
}

// Card returns the current text of one card.
func (b *TermBoard) Card(field string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cards[field]
}

func (b *TermBoard) SetConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
	b.Flush()
}

// Flush writes the status line and every card as one block.
func (b *TermBoard) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintln(b.out, b.render())
}

func (b *TermBoard) render() string {
	status := b.renderer.NewStyle().Bold(true)
	if b.connected {
		status = status.Foreground(colorConnected).SetString(textConnected)
	} else {
		status = status.Foreground(colorDisconnected).SetString(textDisconnected)
	}

	label := b.renderer.NewStyle().Foreground(colorLabel).Width(12)
	value := b.renderer.NewStyle().Bold(true)

	var sb strings.Builder
	sb.WriteString(status.String())
	for _, tag := range Fields() {
		sb.WriteString("\n")
		sb.WriteString(label.Render(cardLabels[tag]))
		sb.WriteString(value.Render(b.cards[tag]))
	}
	return sb.String()
}
