package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightninglabs/kaleido"
	"github.com/lightninglabs/kaleido/kaleidocfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
)

// lockTimeout is how long a command waits for another one to finish.
var lockTimeout = 5 * time.Second

// session is an opened server and the context commands run in.
type session struct {
	ctx    context.Context
	server *kaleido.Server
	close  func() error
}

// connectFunc opens a session for a command.
type connectFunc func(ctx *cli.Context) (*session, error)

// globalConfigFlags are passed on to the config parser when set.
var globalConfigFlags = []string{
	"kaleidodir", "configfile", "network", "bifrost", "debuglevel",
}

// configArgs turns the global flags that were set into config arguments.
func configArgs(ctx *cli.Context) []string {
	var args []string
	for _, name := range globalConfigFlags {
		if ctx.GlobalIsSet(name) {
			args = append(args, fmt.Sprintf("--%s=%s", name,
				ctx.GlobalString(name)))
		}
	}
	return args
}

// acquireLock takes the exclusive lock file. The file is an empty bbolt
// database, bbolt holds an flock on it while it is open.
func acquireLock(path string) (func() error, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: lockTimeout,
	})
	switch {
	case errors.Is(err, bbolt.ErrTimeout):
		return nil, fmt.Errorf("another kaleido command holds %v", path)

	case err != nil:
		return nil, fmt.Errorf("unable to take lock %v: %w", path, err)
	}

	return db.Close, nil
}

// connectServer loads the config, takes the lock and creates the server.
func connectServer(ctx *cli.Context) (*session, error) {
	interceptor, err := signal.Intercept()
	if err != nil {
		return nil, err
	}

	cfg, cfgLogger, err := kaleidocfg.LoadConfig(
		configArgs(ctx), interceptor,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	unlock, err := acquireLock(cfg.LockFile())
	if err != nil {
		return nil, err
	}

	server, err := kaleidocfg.CreateServerFromConfig(cfg, cfgLogger)
	if err != nil {
		return nil, multierr.Append(err, unlock())
	}

	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()
		case <-ctxc.Done():
		}
	}()

	return &session{
		ctx:    ctxc,
		server: server,
		close: func() error {
			cancel()
			return multierr.Combine(server.Stop(), unlock())
		},
	}, nil
}
