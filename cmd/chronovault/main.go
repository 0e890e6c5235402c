package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/chronovault/internal/config"
	"github.com/celerix-dev/chronovault/internal/inheritance"
	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/pkg/engine"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// app carries the store opened for the running command.
type app struct {
	dataDir string
	addr    string
	store   sdk.OwnerStore
	closeFn func() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chronovault",
		Short:         "Inspect and maintain a Chronovault store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "./data", "directory of the embedded file store")
	root.PersistentFlags().StringVar(&a.addr, "addr", "", "address of a store daemon (overrides "+sdk.EnvStoreAddr+")")

	root.AddCommand(
		a.getCmd(), a.putCmd(), a.revealCmd(), a.delCmd(), a.purgeCmd(),
		a.ownersCmd(), a.fieldsCmd(), a.dumpCmd(), a.pingCmd(),
		a.statusCmd(), a.backupCmd(), a.restoreCmd(), a.migrateCmd(),
	)
	return root
}

func (a *app) open() error {
	if a.addr != "" {
		c, err := sdk.Connect(a.addr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", a.addr, err)
		}
		a.store, a.closeFn = c, c.Close
		return nil
	}
	s, err := sdk.New(a.dataDir)
	if err != nil {
		return err
	}
	a.store = s
	if c, ok := s.(io.Closer); ok {
		a.closeFn = c.Close
	}
	return nil
}

func (a *app) close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <owner> <field>",
		Short: "Print one field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := a.store.Get(args[0], args[1])
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(val, &v); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	var seal bool
	cmd := &cobra.Command{
		Use:   "put <owner> <field> <value>",
		Short: "Write one field; values that are not JSON are stored as strings",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, field, value := args[0], args[1], args[2]
			if seal {
				key, err := masterKey(cmd)
				if err != nil {
					return err
				}
				if err := sdk.Scope(a.store, owner).Vault(key).Put(field, value); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "OK (sealed)")
				return nil
			}

			raw := json.RawMessage(value)
			if !json.Valid(raw) {
				quoted, err := json.Marshal(value)
				if err != nil {
					return err
				}
				raw = quoted
			}
			if err := a.store.Put(owner, field, raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().BoolVar(&seal, "seal", false, "encrypt the value with the master key before storing it")
	return cmd
}

func (a *app) revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <owner> <field>",
		Short: "Decrypt a field written with put --seal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := masterKey(cmd)
			if err != nil {
				return err
			}
			plain, err := sdk.Scope(a.store, args[0]).Vault(key).Get(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plain)
			return nil
		},
	}
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <owner> <field>",
		Short: "Delete one field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Delete(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge <owner>",
		Short: "Delete every field of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("purge is destructive; pass --yes to confirm")
			}
			if err := a.store.Purge(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func (a *app) ownersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "List owners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owners, err := a.store.Owners()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), owners)
		},
	}
}

func (a *app) fieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <owner>",
		Short: "List the fields of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := a.store.Fields(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fields)
		},
	}
}

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <owner>",
		Short: "Print every field of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.store.Dump(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the store daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ok := a.store.(*sdk.Client)
			if !ok {
				return errors.New("ping needs a store daemon (--addr or " + sdk.EnvStoreAddr + ")")
			}
			if err := c.Ping(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PONG")
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <owner>",
		Short: "Show the derived vault state of an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig[config.Config](nil, config.Defaults(), nil)
			if err != nil {
				return err
			}
			ctrl, err := inheritance.New(a.store, inheritance.Options{Policy: cfg.PolicyDefaults()})
			if err != nil {
				return err
			}
			v, err := ctrl.Verdict(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), v)
			}
			list, err := ctrl.Heirs(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(v, list))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func (a *app) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a compressed snapshot of the whole store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			if err := engine.Export(f, a.store); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Load a snapshot written by backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := engine.Import(f, a.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d fields\n", n)
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	var dbType, dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the store into a SQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dst, err := engine.OpenSQLStore(dbType, dsn)
			if err != nil {
				return err
			}
			defer dst.Close()
			n, err := engine.Migrate(a.store, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d fields to %s\n", n, dbType)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbType, "type", "sqlite", "target database: sqlite, postgres or mysql")
	cmd.Flags().StringVar(&dsn, "dsn", "", "target connection string")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

