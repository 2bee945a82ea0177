package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/planning-poker/planpoker/internal/app"
	"github.com/planning-poker/planpoker/internal/client"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:40080", "Base URL of the planning poker server")
	name := flag.String("name", defaultName(), "Voter name to join as")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		os.Exit(2)
	}

	wsURL, err := client.VoterURL(*baseURL, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	m := app.New(*name, client.NewWSClient(wsURL), client.NewHTTPClient(*baseURL))
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
