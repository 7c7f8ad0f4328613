package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nickyhof/LayerDB/ps"
)

// authFlags configure git transport auth for catalog sync.
type authFlags struct {
	token    string
	sshKey   string
	username string
	password string
}

func (f *authFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "access token")
	cmd.Flags().StringVar(&f.sshKey, "ssh-key", "", "path to an SSH private key")
	cmd.Flags().StringVar(&f.username, "username", "", "basic auth user")
	cmd.Flags().StringVar(&f.password, "password", "", "basic auth password")
}

func (f *authFlags) auth() *ps.RemoteAuth {
	switch {
	case f.token != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: f.token}
	case f.sshKey != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeSSH, KeyPath: f.sshKey}
	case f.username != "":
		return &ps.RemoteAuth{Type: ps.AuthTypeBasic, Username: f.username, Password: f.password}
	}
	return nil
}

func (a *app) catalog(cmd *cobra.Command) (*ps.Persistence, error) {
	inst, err := a.instance(cmd.Context())
	if err != nil {
		return nil, err
	}
	return inst.Catalog, nil
}

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the catalog history and sync it as a git repository",
	}
	cmd.AddCommand(newCatalogLogCmd(a), newCatalogRemoteCmd(a))

	var auth authFlags
	for _, c := range []*cobra.Command{
		{
			Use:   "push [REMOTE]",
			Short: "Push the catalog branch",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				return p.Push(firstArg(args), "", auth.auth())
			},
		},
		{
			Use:   "pull [REMOTE]",
			Short: "Fast-forward the catalog to a remote",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				return p.Pull(firstArg(args), "", auth.auth())
			},
		},
		{
			Use:   "fetch [REMOTE]",
			Short: "Fetch a remote's catalog refs",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				return p.Fetch(firstArg(args), auth.auth())
			},
		},
	} {
		c.Args = cobra.MaximumNArgs(1)
		auth.register(c)
		cmd.AddCommand(c)
	}
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newCatalogLogCmd(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List catalog transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.catalog(cmd)
			if err != nil {
				return err
			}
			txns, err := p.TransactionsSince(time.Now().Add(-since))
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "Transaction", "When", "Author", "Message")
			for _, txn := range txns {
				t.AppendRow(table.Row{
					short(txn.Id),
					txn.When.Local().Format("2006-01-02 15:04:05"),
					txn.Author,
					truncate(strings.TrimSpace(txn.Message), 60),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to list")
	return cmd
}

func newCatalogRemoteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage catalog git remotes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add NAME URL",
			Short: "Add a git remote",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				if err := p.AddRemote(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s✓ Added remote %s%s\n", SuccessColor, args[0], ResetColor)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List git remotes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				remotes, err := p.ListRemotes()
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), "Remote", "URL")
				for _, r := range remotes {
					t.AppendRow(table.Row{r.Name, strings.Join(r.URLs, ", ")})
				}
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm NAME",
			Short: "Remove a git remote",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.catalog(cmd)
				if err != nil {
					return err
				}
				return p.RemoveRemote(args[0])
			},
		},
	)
	return cmd
}
