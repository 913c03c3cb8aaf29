package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/slk/internal/app"
	"github.com/matheus3301/slk/internal/config"
	"github.com/matheus3301/slk/internal/session"
	"go.uber.org/fx"
)

const defaultAPIBase = "https://slack.com/api"

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("SLACK_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: SLACK_TOKEN is not set")
		os.Exit(1)
	}

	apiBase := defaultAPIBase
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.APIBase != "" {
		apiBase = cfg.APIBase
	}

	fx.New(
		app.Options(app.Params{
			SessionName: sessionName,
			Token:       token,
			APIBase:     apiBase,
		}),
	).Run()
}
