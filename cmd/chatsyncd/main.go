package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/innosphere/chatsync/internal/daemon"
	"github.com/innosphere/chatsync/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config server_url)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			ServerURL:   *serverFlag,
		}),
	)

	app.Run()
}
