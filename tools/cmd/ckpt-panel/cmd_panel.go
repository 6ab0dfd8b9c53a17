package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagewatch/checkpoints/pkg/bridge"
	"github.com/pagewatch/checkpoints/pkg/session"
	"github.com/pagewatch/checkpoints/pkg/store"
	"github.com/pagewatch/checkpoints/tools/cli"
)

const cliParamWait = "wait"

func cmdRoot() *cobra.Command {
	cfg := cli.ReadEnv(context.Background())

	rootCmd := &cobra.Command{
		Use:           "ckpt-panel",
		Short:         "Memory-access checkpoint panel coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := cli.ParseParams(cmd, args)
			if params.Version {
				fmt.Println(cli.GetVersion())
				return nil
			}

			return cmd.Help()
		},
	}
	cli.AddFlags(rootCmd, cfg)

	rootCmd.AddCommand(cmdWatchPage(), cmdGetCheckpoints(), cmdServe())

	return rootCmd
}

// ///// ///// /////

// ///// SESSION COMMANDS

// ///// ///// /////

func cmdWatchPage() *cobra.Command {
	return &cobra.Command{
		Use:   "watch_page <address>",
		Short: "Watch a memory page for accesses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *session.Session) error {
				result := &session.Result{}
				session.WatchPageCommand(s, result, args)
				if out := result.Output(); out != "" {
					fmt.Println(out)
				}

				return result.Err()
			})
		},
	}
}

func cmdGetCheckpoints() *cobra.Command {
	c := &cobra.Command{
		Use:   "get_checkpoints",
		Short: "Request the checkpoint list and push it to the panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			wait, err := cmd.Flags().GetDuration(cliParamWait)
			if err != nil {
				panic(err)
			}

			return withSession(cmd, func(s *session.Session) error {
				result := &session.Result{}
				session.GetCheckpointsCommand(s, result, args)
				if result.Err() != nil {
					return result.Err()
				}
				fmt.Println(result.Output())

				// the flow itself is non-blocking, but the process has to
				// outlive the response
				deadline := time.Now().Add(wait)
				for time.Now().Before(deadline) {
					if s.Registry.Len() == 0 {
						return nil
					}
					time.Sleep(50 * time.Millisecond)
				}
				fmt.Println("No response, re-issue to retry")

				return nil
			})
		},
	}
	c.Flags().Duration(cliParamWait, 3*time.Second,
		"How long to wait for the checkpoint response")

	return c
}

// withSession connects the bridge, builds a session, and tears both down.
func withSession(
	cmd *cobra.Command, fn func(s *session.Session) error,
) error {
	params := cli.ParseParams(cmd, nil)
	if logger := cli.GetFileLogger(&params); logger != nil {
		log.SetOutput(logger.Writer())
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	client := bridge.NewClient(params.Addr)
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	opts := &session.Opts{}
	if params.DbFile != "" {
		db, err := store.Open(params.DbFile)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Store = db
	}

	s := session.New(params.SessionId, client, cli.LiteralEval{}, opts)
	defer s.Dispose()

	return fn(s)
}

// ///// ///// /////

// ///// HOST SERVER

// ///// ///// /////

// cmdServe runs a diagnostic panel host: it accepts bridge connections and
// prints the traffic instead of rendering webviews.
func cmdServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a diagnostic bridge host",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := cli.ParseParams(cmd, nil)

			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			srv := bridge.NewServer(params.Addr,
				logRecord("message"), logRecord("event"))
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "listening on %s\n", srv.ListenAddr())

			return srv.Wait()
		},
	}
}

func logRecord(kind string) bridge.HandlerFn {
	return func(sessionId string, raw json.RawMessage) {
		fmt.Printf("%s %s: %s\n", sessionId, kind, raw)
	}
}
