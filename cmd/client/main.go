package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	intrnl "roomrelay/internal"
	"roomrelay/internal/app"
)

func main() {
	server := flag.String("server", envOrDefault("ROOMRELAY_SERVER", "ws://localhost:8080/ws"), "websocket URL of the relay")
	name := flag.String("name", envOrDefault("ROOMRELAY_NAME", defaultName()), "display name")
	avatar := flag.String("avatar", "", "avatar reference")
	room := flag.String("room", "", "room to join (required)")
	peek := flag.Bool("peek", false, "print the room's retained history and exit")
	flag.Parse()

	if *room == "" {
		fmt.Fprintln(os.Stderr, "a room is required, e.g. -room general")
		os.Exit(1)
	}

	cfg := app.ClientConfig{
		ServerURL: *server,
		Name:      *name,
		Avatar:    *avatar,
		Room:      *room,
	}

	if *peek {
		messages, err := intrnl.FetchRoomHistory(cfg.ServerURL, cfg.Room)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch history: %v\n", err)
			os.Exit(1)
		}
		for _, msg := range messages {
			body := msg.Text
			if msg.MsgType == "file" {
				body = fmt.Sprintf("[file %s, %d bytes]", msg.FileName, msg.FileSize)
			}
			fmt.Printf("%s %s: %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04"), msg.SenderName, body)
		}
		return
	}

	model := intrnl.NewChatModel(cfg.ServerURL, cfg.Name, cfg.Avatar, cfg.Room)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
		os.Exit(1)
	}
}

func defaultName() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
