package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestDeviceItemDescriptionIncludesAddress(t *testing.T) {
	d := deviceItem{serial: "0102030405060708", address: "10.0.0.5:4242", lastHeartbeat: time.Now().Unix()}
	assert.Contains(t, d.Description(), d.address)
	assert.Equal(t, d.serial, d.Title())
	assert.Equal(t, d.serial, d.FilterValue())
}

func TestModelUpdateDevicesFetchedPopulatesList(t *testing.T) {
	m := newModel(&apiClient{base: "http://unused", http: http.DefaultClient})

	items := []list.Item{deviceItem{serial: "AA", address: "1.1.1.1:1"}}
	updated, _ := m.Update(devicesFetchedMsg{items: items})
	um := updated.(model)

	assert.Equal(t, "1 device(s) connected", um.status)
	assert.Empty(t, um.err)
	assert.Len(t, um.list.Items(), 1)
}

func TestModelUpdateDevicesFetchedErrorSetsErrField(t *testing.T) {
	m := newModel(&apiClient{base: "http://unused", http: http.DefaultClient})

	updated, _ := m.Update(devicesFetchedMsg{err: assertErr("boom")})
	um := updated.(model)

	assert.Contains(t, um.err, "boom")
}

func TestModelUpdateCommandResultReportsFailure(t *testing.T) {
	m := newModel(&apiClient{base: "http://unused", http: http.DefaultClient})

	updated, _ := m.Update(commandResultMsg{action: "open_lock", serial: "AA", err: assertErr("not connected")})
	um := updated.(model)

	assert.Contains(t, um.err, "open_lock")
	assert.Contains(t, um.err, "not connected")
}

func TestModelQuitOnCtrlC(t *testing.T) {
	m := newModel(&apiClient{base: "http://unused", http: http.DefaultClient})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
}

func TestAPIClientListDevicesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/device_statuses", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"devices": []map[string]interface{}{
				{"serial": "AA", "address": "1.1.1.1:1", "lastHeartbeat": 1700000000},
			},
		})
	}))
	defer srv.Close()

	client := &apiClient{base: srv.URL, http: srv.Client()}
	items, err := client.listDevices()
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "AA", items[0].(deviceItem).serial)
}

func TestAPIClientCommandUnknownAction(t *testing.T) {
	client := &apiClient{base: "http://unused", http: http.DefaultClient}
	err := client.command("dance", "AA", "")
	assert.Error(t, err)
}

func TestAPIClientCommandSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "device not connected"})
	}))
	defer srv.Close()

	client := &apiClient{base: srv.URL, http: srv.Client()}
	err := client.command("open_lock", "AA", "")
	assert.ErrorContains(t, err, "device not connected")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
