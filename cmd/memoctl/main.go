// Package memoctl inspects and maintains a memo storage root.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/gophersatwork/memo"
	"github.com/gophersatwork/memo/postgres"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
)

// tool is the state opened by app.Before and shared by all commands.
type tool struct {
	Cacher    *memo.Cacher
	Files     *memo.FileStore // nil for a postgres store
	Postgres  *postgres.Store // nil for a file store
	Config    memo.Config
	Log       *logrus.Logger
	closeFunc func() error
}

var app tool

var errFileStoreOnly = errors.New("this command needs a file store")

var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "summarize the storage root",
	Action: func(c *cli.Context) error {
		if app.Files == nil {
			return errFileStoreOnly
		}
		stats, err := app.Files.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("root:      %s\n", app.Files.Root())
		fmt.Printf("codec:     %s\n", app.Files.Extension())
		fmt.Printf("functions: %d\n", stats.Functions)
		fmt.Printf("entries:   %d\n", stats.Entries)
		fmt.Printf("size:      %d bytes\n", stats.TotalSize)
		if stats.Entries > 0 {
			fmt.Printf("oldest:    %s\n", stats.OldestEntry.Round(time.Second))
			fmt.Printf("newest:    %s\n", stats.NewestEntry.Round(time.Second))
		}
		return nil
	},
}

var listCommand = cli.Command{
	Name:  "ls",
	Usage: "list slots, oldest first",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "func",
			Usage: "only list slots of this function fingerprint",
		},
	},
	Action: func(c *cli.Context) error {
		if app.Files == nil {
			return errFileStoreOnly
		}
		entries, err := app.Files.Entries(context.Background())
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].ModTime.Before(entries[j].ModTime)
		})

		fn := c.String("func")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FUNC\tARGS\tSIZE\tMODIFIED\tACCESSED")
		for _, e := range entries {
			if fn != "" && e.ID.Func != fn {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.ID.Func, e.ID.Args, e.Size,
				e.ModTime.Format(time.RFC3339), e.AccessTime.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var pruneCommand = cli.Command{
	Name:  "prune",
	Usage: "remove slots last written before a cutoff",
	Flags: []cli.Flag{
		cli.DurationFlag{
			Name:  "older-than",
			Value: 7 * 24 * time.Hour,
			Usage: "remove slots older than this",
		},
	},
	Action: func(c *cli.Context) error {
		olderThan := c.Duration("older-than")
		if olderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}

		var (
			n   int
			err error
		)
		ctx := context.Background()
		if app.Files != nil {
			n, err = app.Files.Prune(ctx, olderThan, app.Config.LockTimeout)
		} else {
			n, err = app.Postgres.Prune(ctx, olderThan, app.Config.LockTimeout)
		}
		app.Log.WithField("removed", n).Info("pruned")
		return err
	},
}

var purgeCommand = cli.Command{
	Name:  "purge",
	Usage: "remove every slot of one function fingerprint",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "func",
			Usage: "function fingerprint, as shown by ls",
		},
	},
	Action: func(c *cli.Context) error {
		fn := c.String("func")
		if fn == "" {
			return fmt.Errorf("--func is required")
		}
		n, err := app.Cacher.Purge(context.Background(), fn)
		app.Log.WithFields(logrus.Fields{"func": fn, "removed": n}).Info("purged")
		return err
	},
}

// open builds the store and cacher from the config file and global flags.
func open(c *cli.Context) error {
	app.Log = logrus.New()
	if c.GlobalBool("verbose") {
		app.Log.SetLevel(logrus.DebugLevel)
	}

	fs := afero.NewOsFs()
	cfg := memo.DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = memo.LoadConfig(fs, path); err != nil {
			return err
		}
	}
	if c.GlobalIsSet("root") {
		cfg.Root = c.GlobalString("root")
	}
	if c.GlobalIsSet("codec") {
		cfg.Codec = c.GlobalString("codec")
	}
	if c.GlobalIsSet("lock-timeout") {
		cfg.LockTimeout = c.GlobalDuration("lock-timeout")
	}
	app.Config = cfg

	if dsn := c.GlobalString("postgres"); dsn != "" {
		codec, err := memo.CodecByName(cfg.Codec)
		if err != nil {
			return err
		}
		store, err := postgres.Open(dsn, codec)
		if err != nil {
			return err
		}
		cacher, err := memo.New(store,
			memo.WithLockTimeout(cfg.LockTimeout),
			memo.WithLogger(app.Log))
		if err != nil {
			store.Close()
			return err
		}
		app.Cacher, app.Postgres, app.closeFunc = cacher, store, store.Close
		return nil
	}

	cacher, store, _, err := cfg.Open(fs, memo.WithLogger(app.Log))
	if err != nil {
		return err
	}
	app.Cacher, app.Files = cacher, store
	return nil
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "memoctl"
	cliApp.Usage = "inspect and maintain a memo storage root"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "read settings from this YAML file",
		},
		cli.StringFlag{
			Name:  "root",
			Value: memo.DefaultRoot,
			Usage: "storage root directory",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "json",
			Usage: "slot codec, one of json, gob, cbor, yaml, csv",
		},
		cli.DurationFlag{
			Name:  "lock-timeout",
			Value: -1,
			Usage: "how long to wait for a busy slot, negative waits forever",
		},
		cli.StringFlag{
			Name:  "postgres",
			Usage: "use the PostgreSQL store at this connection string",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "log at debug level",
		},
	}
	cliApp.Commands = []cli.Command{
		statsCommand,
		listCommand,
		pruneCommand,
		purgeCommand,
	}
	cliApp.Before = open
	cliApp.After = func(c *cli.Context) error {
		if app.closeFunc != nil {
			return app.closeFunc()
		}
		return nil
	}

	if err := cliApp.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
