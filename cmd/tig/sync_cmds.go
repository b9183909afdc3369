package main

import (
	"fmt"
	"strings"
	"time"

	"tigsync/client"
	"tigsync/internal/auth"
	"tigsync/internal/config"
	"tigsync/internal/exchange"
	"tigsync/internal/logging"
	"tigsync/internal/remote"
	"tigsync/internal/repo"
	"tigsync/internal/server"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func remoteManager(r *repo.Repository) *remote.Manager {
	return remote.NewManager(config.ForRepository(r.Root()))
}

// openExchange resolves the named remote, or the default, for the current
// repository.
func openExchange(name string) (*repo.Repository, *exchange.Exchange, error) {
	r, err := openRepo()
	if err != nil {
		return nil, nil, err
	}
	c, err := remoteManager(r).Client(name, client.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return r, exchange.New(r, c, logger), nil
}

func currentBranch(r *repo.Repository, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	branch, onBranch, err := r.CurrentBranch()
	if err != nil {
		return "", err
	}
	if !onBranch {
		return "", fmt.Errorf("HEAD is detached; name a branch")
	}
	return branch, nil
}

func loadServerConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	l, err := logging.NewLoggerWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, l, nil
}

func init() {
	var configPath string

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadServerConfig(configPath)
			if err != nil {
				return err
			}
			defer l.Sync()

			srv, err := server.New(cmd.Context(), cfg, l)
			if err != nil {
				return err
			}
			var result *multierror.Error
			if err := srv.Run(cmd.Context()); err != nil {
				result = multierror.Append(result, err)
			}
			if err := srv.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", config.Path(), "server config file")

	var remoteCmd = &cobra.Command{
		Use:   "remote",
		Short: "Manage named remotes",
	}

	var addCmd = &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote; the first one becomes the default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			added, err := remoteManager(r).Add(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Added remote %s -> %s\n", added.Name, added.URL)
			return nil
		},
	}

	var removeCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			if err := remoteManager(r).Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed remote %s\n", args[0])
			return nil
		},
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			remotes, err := remoteManager(r).List()
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			for _, rc := range remotes {
				marker := " "
				if rc.Default {
					marker = green("*")
				}
				fmt.Printf("%s %-12s %s\n", marker, rc.Name, rc.URL)
			}
			return nil
		},
	}

	var defaultCmd = &cobra.Command{
		Use:   "default <name>",
		Short: "Make a remote the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			if err := remoteManager(r).SetDefault(args[0]); err != nil {
				return err
			}
			fmt.Printf("Default remote is now %s\n", args[0])
			return nil
		},
	}

	var tokenValue string
	var setTokenCmd = &cobra.Command{
		Use:   "set-token <name>",
		Short: "Store the bearer token used for a remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo()
			if err != nil {
				return err
			}
			return remoteManager(r).SetToken(args[0], tokenValue)
		},
	}
	setTokenCmd.Flags().StringVar(&tokenValue, "token", "", "bearer token")
	setTokenCmd.MarkFlagRequired("token")

	remoteCmd.AddCommand(addCmd, removeCmd, listCmd, defaultCmd, setTokenCmd)

	var remoteName string
	var force bool
	var pushCmd = &cobra.Command{
		Use:   "push [branch]",
		Short: "Send local commits to the remote",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ex, err := openExchange(remoteName)
			if err != nil {
				return err
			}
			branch, err := currentBranch(r, args)
			if err != nil {
				return err
			}
			res, err := ex.Push(cmd.Context(), branch, force)
			if err != nil {
				return err
			}
			if res.Sent == 0 {
				fmt.Println(res.Message)
				return nil
			}
			fmt.Printf("%s: %d commits pushed, remote at %s\n", branch, res.Sent, shortHash(res.RemoteHead))
			return nil
		},
	}
	pushCmd.Flags().StringVarP(&remoteName, "remote", "r", "", "remote name (default remote when empty)")
	pushCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite a diverged remote branch")

	var pullCmd = &cobra.Command{
		Use:   "pull [branch]",
		Short: "Fetch remote commits and fast-forward the branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ex, err := openExchange(remoteName)
			if err != nil {
				return err
			}
			branch, err := currentBranch(r, args)
			if err != nil {
				return err
			}
			res, err := ex.Pull(cmd.Context(), branch)
			if err != nil {
				return err
			}
			if res.Diverged {
				color.New(color.FgYellow).Println(res.Message)
				return nil
			}
			fmt.Printf("%s (%d commits received)\n", res.Message, res.Received)
			return nil
		},
	}
	pullCmd.Flags().StringVarP(&remoteName, "remote", "r", "", "remote name (default remote when empty)")

	var tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage server API tokens (run on the server host)",
	}

	var user, perms string
	var ttl time.Duration
	var createCmd = &cobra.Command{
		Use:   "create",
		Short: "Issue a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var permissions []auth.Permission
			for _, p := range strings.Split(perms, ",") {
				perm, err := auth.ParsePermission(p)
				if err != nil {
					return err
				}
				permissions = append(permissions, perm)
			}
			return withTokenStore(configPath, func(tokens *auth.TokenStore) error {
				tok, err := tokens.Issue(cmd.Context(), user, permissions, ttl)
				if err != nil {
					return err
				}
				fmt.Printf("Token for %s (id %s):\n%s\n", tok.UserID, tok.ID, tok.Token)
				return nil
			})
		},
	}
	createCmd.Flags().StringVarP(&user, "user", "u", "", "user the token acts as")
	createCmd.Flags().StringVarP(&perms, "permissions", "p", "read", "comma separated permissions: read, write, lock, admin")
	createCmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 never expires)")
	createCmd.MarkFlagRequired("user")

	var revokeCmd = &cobra.Command{
		Use:   "revoke <token-or-id>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(configPath, func(tokens *auth.TokenStore) error {
				if err := tokens.Revoke(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Println("Token revoked")
				return nil
			})
		},
	}

	var tokensCmd = &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTokenStore(configPath, func(tokens *auth.TokenStore) error {
				list, err := tokens.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range list {
					expires := "never"
					if t.ExpiresAt != nil {
						expires = t.ExpiresAt.Local().Format(time.RFC3339)
					}
					fmt.Printf("%s  %-12s %-24s expires %s\n", t.ID, t.UserID, joinPermissions(t.Permissions), expires)
				}
				return nil
			})
		},
	}

	tokenCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "server config file")
	tokenCmd.AddCommand(createCmd, revokeCmd, tokensCmd)

	rootCmd.AddCommand(serveCmd, remoteCmd, pushCmd, pullCmd, tokenCmd)
}

// withTokenStore opens the server's token database for fn. The server must
// not be running since the database allows a single process.
func withTokenStore(configPath string, fn func(*auth.TokenStore) error) error {
	cfg, l, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}
	defer l.Sync()

	tokens, closeDB, err := server.OpenTokenStore(cfg, l.Logger)
	if err != nil {
		return err
	}
	err = fn(tokens)
	if cerr := closeDB(); cerr != nil {
		l.Error("closing token database", zap.Error(cerr))
		err = multierror.Append(err, cerr).ErrorOrNil()
	}
	return err
}

func joinPermissions(perms []auth.Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
