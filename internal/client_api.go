package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"roomrelay/internal/history"
)

var httpTimeout = 5 * time.Second

// HTTPBaseURL converts a websocket URL into the REST base of the same server.
func HTTPBaseURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = ""
	return strings.TrimSuffix(parsed.String(), "/"), nil
}

// FetchRoster reads the online-user list from the relay's REST surface.
func FetchRoster(wsURL string) ([]RosterUser, error) {
	base, err := HTTPBaseURL(wsURL)
	if err != nil {
		return nil, err
	}
	var resp usersResponse
	if err := getJSON(base+"/api/users", &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// FetchRoomHistory reads a room's retained messages from the REST surface.
func FetchRoomHistory(wsURL, roomID string) ([]history.Message, error) {
	base, err := HTTPBaseURL(wsURL)
	if err != nil {
		return nil, err
	}
	var resp roomHistoryResponse
	if err := getJSON(base+"/api/rooms/"+url.PathEscape(roomID)+"/messages", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func fetchRosterCmd(wsURL string) tea.Cmd {
	return func() tea.Msg {
		users, err := FetchRoster(wsURL)
		return rosterFetchedMsg{users: users, err: err}
	}
}

func getJSON(endpoint string, out interface{}) error {
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
