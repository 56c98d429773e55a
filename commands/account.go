package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	dbadapter "github.com/thc1967/codex-quest-manager-sub000/db"
	"github.com/thc1967/codex-quest-manager-sub000/model"
	"gorm.io/gorm"
)

// NewAccountCommand creates the accounts command with its subcommands.
func NewAccountCommand() *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account management commands",
	}

	accountCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts and their roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(db *gorm.DB) error {
				var accounts []model.Account
				if err := db.Order("id").Find(&accounts).Error; err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tUSERNAME\tDISPLAY NAME\tROLE\tSTATUS")
				for _, a := range accounts {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", a.ID, a.Username, a.DisplayName, a.Role, a.Status)
				}
				return w.Flush()
			})
		},
	})
	accountCmd.AddCommand(roleCommand("promote", "Make an account a director", model.RoleDirector))
	accountCmd.AddCommand(roleCommand("demote", "Make an account a regular player", model.RolePlayer))
	return accountCmd
}

// roleCommand sets the role of the named account. The change applies from
// the account's next login or token refresh.
func roleCommand(use, short, role string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(db *gorm.DB) error {
				var acc model.Account
				err := db.Where("username = ?", args[0]).First(&acc).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("account %q not found", args[0])
				}
				if err != nil {
					return err
				}
				if err := db.Model(&acc).Update("role", role).Error; err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now a %s\n", args[0], role)
				return nil
			})
		},
	}
}

// withDB opens and migrates the configured database for fn.
func withDB(cmd *cobra.Command, fn func(db *gorm.DB) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := dbadapter.Open(cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer closeDB(db)
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return fn(db)
}
