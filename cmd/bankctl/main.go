// Command bankctl is the terminal front-end of paybook. It keeps one signed
// in session in a token file and talks to the API over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"paybook/internal/client"
	"paybook/internal/platform/config"
	"paybook/internal/platform/logger"
	"paybook/internal/session"
	dErrors "paybook/pkg/domain-errors"
)

const usage = `usage: bankctl <command> [flags]

commands:
  signup    -email -password -name [-phone]
  signin    -email -password
  signout
  whoami
  balance   [-hide]
  history
  contacts  [-recent]
  pay       -to <name|account> -amount N [-desc]
  watch
`

// errSignedOut is returned by commands that need a session.
var errSignedOut = dErrors.New(dErrors.CodeUnauthorized, "not signed in, run bankctl signin first")

type app struct {
	api     *client.Client
	session *session.Context
	out     io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"signup":   cmdSignUp,
	"signin":   cmdSignIn,
	"signout":  cmdSignOut,
	"whoami":   cmdWhoAmI,
	"balance":  cmdBalance,
	"history":  cmdHistory,
	"contacts": cmdContacts,
	"pay":      cmdPay,
	"watch":    cmdWatch,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.ClientFromEnv()
	log := logger.New(envOr("LOG_LEVEL", "error"))
	api := client.New(cfg, client.WithLogger(log))
	a := &app{
		api:     api,
		session: session.New(api, session.NewFileTokenStore(cfg.SessionFile), log),
		out:     os.Stdout,
	}

	if err := a.session.Restore(ctx); err != nil {
		log.WarnContext(ctx, "session restore failed", "error", err)
	}
	if err := cmd(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

// requireSession returns the current token or errSignedOut.
func (a *app) requireSession() (string, error) {
	if !a.session.State().SignedIn() {
		return "", errSignedOut
	}
	return a.session.Token(), nil
}

func describe(err error) string {
	if de, ok := dErrors.As(err); ok {
		return de.Message
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
