package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/railhub/internal/adapters/file"
	"github.com/aretw0/railhub/internal/cli"
	"github.com/aretw0/railhub/pkg/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the station file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default station file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		id, _ := cmd.Flags().GetString("id")
		roleName, _ := cmd.Flags().GetString("role")
		force, _ := cmd.Flags().GetBool("force")

		role, err := domain.ParseRole(roleName)
		if err != nil {
			return err
		}
		cfg, err := cli.InitConfig(cmd.Context(), path, id, role, force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s for station '%s' (%s)\n", path, cfg.Station.ID, cfg.Station.Role)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, environment overrides included",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSetRoleCmd = &cobra.Command{
	Use:   "set-role HUB|REMOTE",
	Short: "Change the role stored in the station file",
	Long: `Changes the role of a stopped station. A running station is
reconfigured through its API instead (POST /role).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		role, err := domain.ParseRole(args[0])
		if err != nil {
			return err
		}
		if err := file.New(path).SaveRole(cmd.Context(), role); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Role set to %s\n", role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetRoleCmd)

	configInitCmd.Flags().String("id", "", "Station id")
	configInitCmd.Flags().String("role", string(domain.RoleHub), "Station role: HUB or REMOTE")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing station file")
}
