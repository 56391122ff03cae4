package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "biaslotto",
		Short:         "Score a judge group's solves and draw a monthly weighted lottery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(crawlCmd())
	root.AddCommand(drawCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(hookCmd())
	root.AddCommand(eventCmd())
	root.AddCommand(userCmd())

	return root
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func crawlCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl, redraw and announce if the draw changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the run report as JSON")
	return cmd
}

func drawCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Preview the current draw from stored totals without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDraw(jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries to show (default: all)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Manage announcement webhooks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add URL",
		Short: "Register a Discord-compatible webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookAdd(args[0])
		},
	})

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookList(all)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include ignored webhooks")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send the current draw to every active webhook and configured notifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookTest()
		},
	})

	return cmd
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage bonus events",
	}

	var (
		title    string
		begin    string
		end      string
		problems []int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an event granting one bonus point per listed problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventAdd(title, begin, end, problems)
		},
	}
	add.Flags().StringVar(&title, "title", "", "event title")
	add.Flags().StringVar(&begin, "begin", "", `start time, "2006-01-02 15:04" in the configured time zone or RFC3339`)
	add.Flags().StringVar(&end, "end", "", "end time, same format as --begin")
	add.Flags().IntSliceVar(&problems, "problems", nil, "problem ids (e.g., 1000,1001)")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("begin")
	_ = add.MarkFlagRequired("end")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventList()
		},
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage crawled users",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ignore NAME",
		Short: "Exclude a user from draws and boards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserIgnore(args[0], true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unignore NAME",
		Short: "Include a previously ignored user again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserIgnore(args[0], false)
		},
	})

	return cmd
}
