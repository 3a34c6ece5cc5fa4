package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/sydlexius/alldbs/internal/backup"
	"github.com/sydlexius/alldbs/internal/manifest"
	"github.com/sydlexius/alldbs/internal/version"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func newListCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every registered database key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			if asJSON {
				entries, err := env.reg.Entries(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			keys, err := env.reg.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full entries as JSON")
	return cmd
}

func newResetCmd(configPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the registry (databases themselves are not destroyed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset the registry without --yes")
			}
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.reg.ResetAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registry cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}

func newExportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the registry to a JSON manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			m, err := manifest.Export(cmd.Context(), env.reg)
			if err != nil {
				return err
			}
			if err := manifest.WriteFile(args[0], m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", len(m.Entries), args[0])
			return nil
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Register every key in a JSON manifest",
		Long:  "Register every key listed in a manifest written by export. Keys already registered are left alone and no databases are created.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.ReadFile(args[0])
			if err != nil {
				return err
			}
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			n, err := manifest.Import(cmd.Context(), env.reg, m)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries from %s\n", n, args[0])
			return nil
		},
	}
}

func newBackupCmd(configPath *string) *cobra.Command {
	backupService := func(env *cliEnv) *backup.Service {
		dir := env.cfg.Backup.Path
		if dir == "" {
			dir = filepath.Join(filepath.Dir(env.cfg.Database.Path), "backups")
		}
		svc := backup.NewService(env.db, dir, env.cfg.Backup.RetentionCount, env.logger)
		svc.SetMaxAgeDays(env.cfg.Backup.MaxAgeDays)
		return svc
	}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the registry and prune old backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			svc := backupService(env)
			info, err := svc.Backup(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Prune(); err != nil {
				env.logger.Warn("pruning backups", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", info.Filename, info.Size)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registry backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			backups, err := backupService(env).ListBackups()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILENAME\tSIZE\tCREATED")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", b.Filename, b.Size, b.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <filename>",
		Short: "Print the keys recorded in a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLI(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			keys, err := backupService(env).Keys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	})
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Hash an admin token for admin.token_hash",
		Long:  "Read an admin token (without echo on a terminal, or one line from stdin) and print its bcrypt hash for use as admin.token_hash.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := readToken(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
			if err != nil {
				return fmt.Errorf("hashing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

// readToken prompts twice on a terminal; otherwise it reads one line.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Admin token: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		fmt.Fprint(prompt, "Repeat token: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("tokens do not match")
		}
		return checkToken(string(first))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return checkToken(strings.TrimRight(line, "\r\n"))
}

func checkToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("token must not be empty")
	}
	if len(token) > 72 {
		return "", errors.New("token must be at most 72 bytes")
	}
	return token, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alldbs %s (%s)\n", version.Version, version.Commit)
		},
	}
}
