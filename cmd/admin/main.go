package main

import (
	"context"
	"fmt"
	"io"
	"mailbox/backend/internal/app"
	"mailbox/backend/internal/config"
	"mailbox/backend/internal/events"
	"mailbox/backend/internal/knowledge"
	"mailbox/backend/internal/logging"
	"mailbox/backend/internal/mailbox"
	"mailbox/backend/internal/storage"
	"mailbox/backend/internal/triage"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := runAdmin(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAdmin(args []string, stdout, stderr io.Writer) error {
	env := &adminEnv{}
	defer env.close()

	root := newRootCmd(env)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

// adminEnv opens the store and the engine on first use, so commands that
// only need the config (token) do not touch the database.
type adminEnv struct {
	configFile string

	cfg     *config.Config
	log     *logrus.Logger
	store   *storage.Service
	engine  *mailbox.Engine
	overlay *knowledge.Overlay
	closeFn func()
}

func (e *adminEnv) loadConfig() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, _, err := config.Load(e.configFile)
	if err != nil {
		return nil, err
	}
	// CLI пише в stdout, тому логи лише від warn.
	log, _, err := logging.New(logging.Options{Level: "warn", Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	e.cfg, e.log = cfg, log
	return cfg, nil
}

func (e *adminEnv) openOverlay() (*knowledge.Overlay, error) {
	if e.overlay != nil {
		return e.overlay, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	e.overlay = app.NewOverlay(cfg)
	return e.overlay, nil
}

// openEngine builds an engine without a deliverer: the bot delivers answers on
// the Redis event or on its next sweep.
func (e *adminEnv) openEngine(ctx context.Context, withResponder bool) (*mailbox.Engine, error) {
	if e.engine != nil {
		return e.engine, nil
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	overlay, err := e.openOverlay()
	if err != nil {
		return nil, err
	}

	store, closeFn, err := app.OpenStorage(ctx, cfg, e.log)
	if err != nil {
		return nil, err
	}
	e.store, e.closeFn = store, closeFn

	mcfg := mailbox.Config{
		Storage:          store,
		Classifier:       triage.NewClassifier(cfg.Triage.Keywords),
		Knowledge:        overlay,
		Logger:           e.log,
		ResponderTimeout: cfg.Responder.Timeout,
	}
	if store.Redis != nil {
		mcfg.Events = events.NewRedisPublisher(store, e.log)
	}
	if withResponder {
		secrets, err := app.Secrets(cfg)
		if err != nil {
			return nil, err
		}
		if mcfg.Responder, err = app.NewResponder(ctx, cfg, secrets); err != nil {
			return nil, err
		}
	}

	e.engine, err = mailbox.NewEngine(mcfg)
	return e.engine, err
}

func (e *adminEnv) close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

func newRootCmd(env *adminEnv) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Mailbox operator tool",
		Long:          "Answers queued questions and maintains the knowledge used by the fast responder.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&env.configFile, "config", "c", "", "config file (default: $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(
		newPendingCmd(env),
		newHistoryCmd(env),
		newAnswerCmd(env),
		newAskCmd(env),
		newFactsCmd(env),
		newInstructCmd(env),
		newSectionCmd(env),
		newStatsCmd(env),
		newTokenCmd(env),
	)
	return root
}
