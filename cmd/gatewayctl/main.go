// Command gatewayctl is an interactive operator console for the
// parking-lock gateway's HTTP control plane, replacing the original
// Python server's blocking interactive input() command loop with a
// bubbletea list-driven TUI. Grounded on the teacher-adjacent
// internal/cli/ui package's Model/Update/View structure and bubbles/list
// usage (guiperry-HASHER).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var apiAddr = flag.String("api-addr", "http://localhost:8080", "base URL of the gateway's HTTP control plane")

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 1).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4B5563")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DC2626")).
			Padding(0, 1)
)

type deviceItem struct {
	serial        string
	address       string
	lastHeartbeat int64
}

func (d deviceItem) Title() string { return d.serial }
func (d deviceItem) Description() string {
	return fmt.Sprintf("%s  last heartbeat %s", d.address, time.Unix(d.lastHeartbeat, 0).Format(time.Kitchen))
}
func (d deviceItem) FilterValue() string { return d.serial }

type devicesFetchedMsg struct {
	items []list.Item
	err   error
}

type commandResultMsg struct {
	action string
	serial string
	err    error
}

type model struct {
	client *apiClient
	list   list.Model
	status string
	err    string
}

func newModel(client *apiClient) model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "connected devices"
	l.Styles.Title = titleStyle
	return model{client: client, list: l, status: "loading devices..."}
}

func (m model) Init() tea.Cmd {
	return m.fetchDevices()
}

func (m model) fetchDevices() tea.Cmd {
	return func() tea.Msg {
		items, err := m.client.listDevices()
		return devicesFetchedMsg{items: items, err: err}
	}
}

func (m model) runCommand(action string) tea.Cmd {
	return func() tea.Msg {
		item, ok := m.list.SelectedItem().(deviceItem)
		if !ok {
			return commandResultMsg{action: action, err: fmt.Errorf("no device selected")}
		}
		err := m.client.command(action, item.serial, "")
		return commandResultMsg{action: action, serial: item.serial, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "refreshing..."
			return m, m.fetchDevices()
		case "o":
			m.status = "opening lock..."
			return m, m.runCommand("open_lock")
		case "c":
			m.status = "closing lock..."
			return m, m.runCommand("close_lock")
		case "h":
			m.status = "holding lock open..."
			return m, m.runCommand("hold_open")
		case "n":
			m.status = "returning lock to normal..."
			return m, m.runCommand("normal")
		case "s":
			m.status = "syncing device time..."
			return m, m.runCommand("sync_time")
		case "x":
			m.status = "restarting device..."
			return m, m.runCommand("restart_device")
		}

	case devicesFetchedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			m.status = ""
			return m, nil
		}
		m.err = ""
		m.status = fmt.Sprintf("%d device(s) connected", len(msg.items))
		m.list.SetItems(msg.items)
		return m, nil

	case commandResultMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("%s failed for %s: %v", msg.action, msg.serial, msg.err)
			m.status = ""
		} else {
			m.err = ""
			m.status = fmt.Sprintf("%s sent to %s", msg.action, msg.serial)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	footer := "o:open  c:close  h:hold-open  n:normal  s:sync-time  x:restart  r:refresh  q:quit"
	body := m.list.View() + "\n" + footer + "\n"
	if m.err != "" {
		return body + errorStyle.Render(m.err)
	}
	return body + statusStyle.Render(m.status)
}

func main() {
	flag.Parse()
	client := &apiClient{base: *apiAddr, http: &http.Client{Timeout: 5 * time.Second}}

	p := tea.NewProgram(newModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("gatewayctl: %v\n", err)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) listDevices() ([]list.Item, error) {
	resp, err := c.http.Get(c.base + "/device_statuses")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Devices []struct {
			Serial        string `json:"serial"`
			Address       string `json:"address"`
			LastHeartbeat int64  `json:"lastHeartbeat"`
		} `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	items := make([]list.Item, 0, len(body.Devices))
	for _, d := range body.Devices {
		items = append(items, deviceItem{serial: d.Serial, address: d.Address, lastHeartbeat: d.LastHeartbeat})
	}
	return items, nil
}

// lockStateCodes mirrors the HTTP facade's numeric /set_state contract:
// 0=normal, 1=hold_open, 2=hold_close.
var lockStateCodes = map[string]int{
	"normal":     0,
	"hold_open":  1,
	"hold_close": 2,
}

func (c *apiClient) command(action, serial, state string) error {
	route := map[string]string{
		"open_lock":      "/open_lock",
		"close_lock":     "/close_lock",
		"hold_open":      "/set_state",
		"hold_close":     "/set_state",
		"normal":         "/set_state",
		"sync_time":      "/sync_time",
		"restart_device": "/restart_device",
	}[action]
	if route == "" {
		return fmt.Errorf("unknown action %q", action)
	}

	payload := map[string]interface{}{"deviceSerial": serial}
	if code, ok := lockStateCodes[action]; ok {
		payload["state"] = code
	}
	if state != "" {
		if code, ok := lockStateCodes[state]; ok {
			payload["state"] = code
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.base+route, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
