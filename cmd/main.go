package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signalbridge/cmd/accounts"
	"signalbridge/cmd/executor"
	"signalbridge/cmd/keys"
	"signalbridge/src/app"
	"signalbridge/src/database"
	"signalbridge/src/logging"
	"signalbridge/src/registry"
	"signalbridge/src/repository"
	"signalbridge/src/security"
	"signalbridge/src/server"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "signalbridge"
	cliApp.Usage = "Trading signal ingestion and execution"
	cliApp.Version = Version

	cliApp.Before = func(_ *cli.Context) error {
		logging.Setup(logging.GetConfig())
		return nil
	}

	cliApp.Commands = []cli.Command{
		serveCMD,
		workerCMD,
		sweepCMD,
		keysCMD,
		accountsCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	idFlag = cli.UintFlag{Name: "id", Usage: "record id"}

	serveCMD = cli.Command{
		Name:   "serve",
		Usage:  "run the webhook API",
		Action: serveAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "no-workers", Usage: "do not run dispatcher workers in this process"},
		},
		Description: `Run the HTTP API. Dispatcher workers and the sweep run in-process unless --no-workers is set.`,
	}
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run dispatcher workers",
		Action:      workerAction,
		Description: `Run dispatcher workers that poll the signal ledger`,
	}
	sweepCMD = cli.Command{
		Name:        "sweep",
		Usage:       "run one reconciliation sweep",
		Action:      sweepAction,
		Description: `Settle signals stuck in processing and report stale pending signals`,
	}
	keysCMD = cli.Command{
		Name:  "keys",
		Usage: "manage webhook keys",
		Subcommands: []cli.Command{
			{
				Name:   "create",
				Usage:  "create a webhook key for a user",
				Action: keysCreateAction,
				Flags: []cli.Flag{
					cli.UintFlag{Name: "user", Usage: "owner user id"},
					cli.StringFlag{Name: "label", Usage: "free text label"},
				},
			},
			{Name: "rotate", Usage: "replace a key's secret", Action: keysRotateAction, Flags: []cli.Flag{idFlag}},
			{Name: "disable", Usage: "disable a key", Action: keysActiveAction(false), Flags: []cli.Flag{idFlag}},
			{Name: "enable", Usage: "enable a key", Action: keysActiveAction(true), Flags: []cli.Flag{idFlag}},
		},
	}
	accountsCMD = cli.Command{
		Name:  "accounts",
		Usage: "manage broker accounts",
		Subcommands: []cli.Command{
			{
				Name:   "add",
				Usage:  "register a broker login",
				Action: accountsAddAction,
				Flags: []cli.Flag{
					cli.UintFlag{Name: "user", Usage: "owner user id"},
					cli.StringFlag{Name: "name", Usage: "account name"},
					cli.StringFlag{Name: "server", Usage: "broker server"},
					cli.Int64Flag{Name: "login", Usage: "terminal login"},
					cli.StringFlag{Name: "password", Usage: "terminal password", EnvVar: "BROKER_PASSWORD"},
				},
			},
			{Name: "disable", Usage: "disable an account", Action: accountsActiveAction(false), Flags: []cli.Flag{idFlag}},
			{Name: "enable", Usage: "enable an account", Action: accountsActiveAction(true), Flags: []cli.Flag{idFlag}},
		},
	}
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveAction(c *cli.Context) error {
	logrus.Info("Starting serve CMD")

	ctx, stop := signalContext()
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	service, err := app.Build(database.MainDB, nil)
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return service.Serve(ctx, server.GetConfig(), !c.Bool("no-workers"))
}

func workerAction(_ *cli.Context) error {
	logrus.Info("Starting worker CMD")

	worker := &executor.Executor{}
	if err := worker.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func sweepAction(_ *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	return executor.Sweep(ctx)
}

func keysCommand() (*keys.Keys, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}
	return &keys.Keys{
		Registry: registry.NewRegistry(repository.NewWebhookKeyRepository()),
		Out:      os.Stdout,
		Config:   keys.GetConfig(),
	}, nil
}

func keysCreateAction(c *cli.Context) error {
	k, err := keysCommand()
	if err != nil {
		return err
	}
	return k.Create(context.Background(), c.Uint("user"), c.String("label"))
}

func keysRotateAction(c *cli.Context) error {
	k, err := keysCommand()
	if err != nil {
		return err
	}
	return k.Rotate(context.Background(), c.Uint("id"))
}

func keysActiveAction(active bool) func(*cli.Context) error {
	return func(c *cli.Context) error {
		k, err := keysCommand()
		if err != nil {
			return err
		}
		return k.SetActive(context.Background(), c.Uint("id"), active)
	}
}

func accountsCommand() (*accounts.Accounts, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}
	vault, err := security.NewVaultFromConfig()
	if err != nil {
		return nil, err
	}
	return &accounts.Accounts{
		Store: repository.NewBrokerAccountRepository(),
		Vault: vault,
		Out:   os.Stdout,
	}, nil
}

func accountsAddAction(c *cli.Context) error {
	a, err := accountsCommand()
	if err != nil {
		return err
	}
	return a.Add(context.Background(), accounts.AddInput{
		UserID:   c.Uint("user"),
		Name:     c.String("name"),
		Server:   c.String("server"),
		Login:    c.Int64("login"),
		Password: c.String("password"),
	})
}

func accountsActiveAction(active bool) func(*cli.Context) error {
	return func(c *cli.Context) error {
		a, err := accountsCommand()
		if err != nil {
			return err
		}
		return a.SetActive(context.Background(), c.Uint("id"), active)
	}
}
