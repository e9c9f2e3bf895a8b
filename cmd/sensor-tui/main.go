// Command sensor-tui is a terminal dashboard for a running sensor: it
// subscribes to the coordinator's event stream over NATS and renders
// live statistics, lifecycle transitions, and recent threats.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nats-io/nats.go"

	"sakin-sensor/internal/events"
)

type model struct {
	state       string
	stats       events.Statistics
	recent      []events.ThreatEvent
	lastUpdated time.Time
	connected   bool
	subject     string
}

// tuiMsg wraps an incoming event for bubbletea's Update loop.
type tuiMsg events.Event

func initialModel(subject string) model {
	return model{state: "Unknown", subject: subject}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tuiMsg:
		evt := events.Event(msg)
		m.lastUpdated = time.Now()
		m.connected = true
		switch evt.Type {
		case events.KindStateChanged:
			m.state = evt.State.To
		case events.KindStatisticsSnapshot:
			m.stats = *evt.Stats
		case events.KindThreatDetected:
			m.recent = append([]events.ThreatEvent{*evt.Threat}, m.recent...)
			if len(m.recent) > 10 {
				m.recent = m.recent[:10]
			}
		}
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().PaddingLeft(2).Bold(true)
	rowStyle   = lipgloss.NewStyle().PaddingLeft(2)
	alertStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#F25D5D"))
)

func (m model) View() string {
	s := titleStyle.Render("sensor — live dashboard") + "\n\n"
	s += rowStyle.Render(fmt.Sprintf("subject    : %s", m.subject)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("state      : %s", m.state)) + "\n"

	conn := "waiting for events..."
	if m.connected {
		conn = m.lastUpdated.Format("15:04:05")
	}
	s += rowStyle.Render(fmt.Sprintf("last event : %s", conn)) + "\n\n"

	s += labelStyle.Render("statistics") + "\n"
	s += rowStyle.Render(fmt.Sprintf("captured=%d dropped=%d extracted=%d predictions=%d",
		m.stats.PacketsCaptured, m.stats.PacketsDropped, m.stats.FeaturesExtracted, m.stats.PredictionsMade)) + "\n"
	s += rowStyle.Render(fmt.Sprintf("threats=%d errors=%d queue_hwm=%d runtime=%.0fs",
		m.stats.ThreatsDetected, m.stats.ProcessingErrors, m.stats.QueueHighWatermark, m.stats.RuntimeSeconds)) + "\n\n"

	s += labelStyle.Render("recent threats") + "\n"
	if len(m.recent) == 0 {
		s += rowStyle.Render("(none yet)") + "\n"
	}
	for _, t := range m.recent {
		s += alertStyle.Render(fmt.Sprintf("%s  %s:%d -> %s:%d  p=%.3f",
			t.Timestamp.Format("15:04:05"), t.SrcIP, t.SrcPort, t.DstIP, t.DstPort, t.Probability)) + "\n"
	}

	s += "\nPress 'q' to quit.\n"
	return s
}

func main() {
	natsURL := flag.String("nats-url", "nats://localhost:4222", "NATS server URL")
	subject := flag.String("subject", "sakin.sensor.events", "subject the sensor publishes events on")
	flag.Parse()

	nc, err := nats.Connect(*natsURL, nats.Name("sensor-tui"), nats.MaxReconnects(-1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor-tui: connect to NATS: %v\n", err)
		os.Exit(1)
	}
	defer nc.Close()

	p := tea.NewProgram(initialModel(*subject))

	sub, err := nc.Subscribe(*subject, func(msg *nats.Msg) {
		var evt events.Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Printf("sensor-tui: malformed event: %v", err)
			return
		}
		p.Send(tuiMsg(evt))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensor-tui: subscribe: %v\n", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "sensor-tui: %v\n", err)
		os.Exit(1)
	}
}
