// Package authctl implements the administrative command line of the
// authentication server: registering identities and sweeping expired
// tokens directly against the configured backend.
package authctl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/logging"
	"github.com/dmitrijs2005/fastauth/internal/server"
	"github.com/dmitrijs2005/fastauth/internal/server/config"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/dmitrijs2005/fastauth/internal/server/reclaimer"
	"github.com/dmitrijs2005/fastauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fastauth/internal/server/services"
)

const usage = `usage: authctl <command> [flags]

commands:
  register   create an identity (prompts for email, username and password)
  reclaim    delete every expired token once
  help       show this message

flags are the server's (-c, -d, -s, -alg, -t, -r, -l ...)`

// ErrUnknownCommand is returned by Run for anything but the commands above.
var ErrUnknownCommand = errors.New("unknown command")

type App struct {
	backend *repomanager.Backend
	engine  *services.AuthService
	logger  logging.Logger
	in      *bufio.Reader
	out     io.Writer
	stdinFd int
}

// NewApp opens the backend named by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	backend, err := repomanager.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	engine, err := server.NewAuthService(cfg, backend.Manager, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return newApp(backend, engine, logger, os.Stdin, os.Stdout, int(os.Stdin.Fd())), nil
}

func newApp(backend *repomanager.Backend, engine *services.AuthService, logger logging.Logger, in io.Reader, out io.Writer, fd int) *App {
	return &App{
		backend: backend,
		engine:  engine,
		logger:  logger,
		in:      bufio.NewReader(in),
		out:     out,
		stdinFd: fd,
	}
}

func (a *App) Close() error {
	return a.backend.Close()
}

// Run executes one command.
func (a *App) Run(ctx context.Context, command string) error {
	switch command {
	case "register":
		return a.Register(ctx)
	case "reclaim":
		return a.Reclaim(ctx)
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, usage)
		return nil
	default:
		fmt.Fprintln(a.out, usage)
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

func (a *App) Register(ctx context.Context) error {
	email, err := GetSimpleText(a.in, "Enter email", a.out)
	if err != nil {
		return err
	}
	username, err := GetSimpleText(a.in, "Enter username", a.out)
	if err != nil {
		return err
	}

	password, err := GetPassword(a.stdinFd, "Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	confirm, err := GetPassword(a.stdinFd, "Repeat password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	if !bytes.Equal(password, confirm) {
		return errors.New("passwords do not match")
	}

	var identity *models.Identity
	err = a.backend.Runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		identity, err = a.engine.Register(ctx, tx, email, username, string(password))
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrConstraintViolation) {
			return errors.New("email or username already registered")
		}
		return err
	}

	fmt.Fprintf(a.out, "registered %s (id=%s)\n", identity.Username, identity.ID)
	return nil
}

func (a *App) Reclaim(ctx context.Context) error {
	removed, err := reclaimer.NewScheduler(a.backend.Runner, a.engine, "", a.logger).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d expired tokens\n", removed)
	return nil
}
