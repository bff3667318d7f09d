package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CoderBotOrg/coderbot/internal/api"
	"github.com/CoderBotOrg/coderbot/internal/model"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	Name string
	Save bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	root := &cobra.Command{
		Use:   "coderbot",
		Short: "Run robot programs under supervision",
		Long: `CoderBot runs user programs that drive the robot, one at a time, and
always leaves motors stopped and the camera idle when a program ends.

Configuration is read from the optional --config file and from CODERBOT_*
environment variables (e.g. CODERBOT_LISTEN_ADDR, CODERBOT_PROG_VIDEO_REC).

Examples:
  coderbot serve
  coderbot run square.star --name=square
  coderbot list`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to a YAML or TOML config file (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags, runFlags),
		createListCommand(globalFlags),
		createDeleteCommand(globalFlags),
	)
	return root
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags.ConfigPath, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("coderbot: starting",
				"listen_addr", a.cfg.ListenAddr,
				"db_path", a.cfg.DBPath,
				"program_dir", a.cfg.ProgramDir,
			)
			return api.NewServer(a.cfg.ListenAddr, a.engine, a.logger).Run()
		},
	}
}

func createRunCommand(flags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a program file on the robot and print its log",
		Long: `Run a program file in the foreground. Ctrl-C asks the program to stop;
the robot is reset before the command returns.

Examples:
  coderbot run square.star
  coderbot run patrol.star --name=patrol --save`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read program: %w", err)
			}
			name := runFlags.Name
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags.ConfigPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.engine.Create(name, string(code))
			if err != nil {
				return err
			}
			if runFlags.Save {
				if err := a.engine.Save(ctx, p); err != nil {
					return err
				}
			}

			if _, err := a.engine.ExecuteCurrent(ctx); err != nil {
				return err
			}

			go func() {
				<-ctx.Done()
				a.engine.Stop()
			}()
			p.Wait()

			fmt.Fprint(cmd.OutOrStdout(), a.engine.GetLog())

			runs, err := a.engine.Runs(context.Background(), name, 1)
			if err != nil {
				return err
			}
			if len(runs) == 1 && runs[0].Status == model.RunStatusFailed {
				return fmt.Errorf("program %s failed: %s", name, runs[0].Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runFlags.Name, "name", "", "program name (default: file name without extension)")
	cmd.Flags().BoolVar(&runFlags.Save, "save", false, "save the program to the catalog before running")
	return cmd
}

func createListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags.ConfigPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.engine.List(cmd.Context())
			if err != nil {
				return err
			}
			return printPrograms(cmd, recs)
		},
	}
}

func printPrograms(cmd *cobra.Command, recs []model.ProgramRecord) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDEFAULT\tFILE")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%t\t%s\n", rec.Name, rec.Default, rec.Filename)
	}
	return w.Flush()
}

func createDeleteCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved program and its payload file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags.ConfigPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
