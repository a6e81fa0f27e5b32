// Command sitectl is the operator-facing administrative CLI: it opens
// the same registry the control plane uses and performs one-shot
// maintenance operations against it, without going through the HTTP
// binding layer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sitedeploy/internal/config"
	"sitedeploy/internal/registry"
)

func openRegistry(cfg config.Config) (*registry.Registry, error) {
	driver := registry.DriverSQLite
	dsn := cfg.DataDir + "/sitedeploy.db"
	if cfg.DatabaseDriver == "postgres" {
		driver = registry.DriverPostgres
		dsn = cfg.DatabaseDSN
	}
	db, err := registry.Connect(registry.Config{Driver: driver, DSN: dsn})
	if err != nil {
		return nil, err
	}
	return registry.New(db), nil
}

func main() {
	cfg := config.Load()

	root := &cobra.Command{
		Use:   "sitectl",
		Short: "administer the deploy control plane's registry",
	}

	root.AddCommand(
		listSitesCmd(cfg),
		deleteSiteCmd(cfg),
		listSessionsCmd(cfg),
		setAdminPasswordCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listSitesCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "list every registered site",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			sites, err := reg.ListSites()
			if err != nil {
				return err
			}
			for _, site := range sites {
				fmt.Printf("%d\t%s\t%s\t%s\n", site.ID, site.Name, site.Status, site.Visibility)
			}
			return nil
		},
	}
}

func deleteSiteCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-site <name>",
		Short: "remove a site's registry record (does not stop its container)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			return reg.DeleteSite(args[0])
		},
	}
}

func listSessionsCmd(cfg config.Config) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "list a user's active editing sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			sessions, err := reg.ActiveSessionsForUser(userID)
			if err != nil {
				return err
			}
			for _, session := range sessions {
				fmt.Printf("%d\t%s\t%s\t%s\n", session.ID, session.SiteName, session.BranchName, session.Status)
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "owning user id")
	return cmd
}

func setAdminPasswordCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set-admin-password <password>",
		Short: "set the single administrative credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			return reg.SetAdminPassword(args[0])
		},
	}
}
