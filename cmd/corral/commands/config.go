package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shepherd-project/corral/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := config.NewManager(cfgFile)
		path := mgr.GetConfigPath()

		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("配置文件已存在: %s (使用 --force 覆盖)", path)
		}

		if err := mgr.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ 配置文件已创建: %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := config.NewManager(cfgFile)
		if _, err := os.Stat(mgr.GetConfigPath()); err != nil {
			return fmt.Errorf("无法读取配置文件: %w", err)
		}
		if _, err := mgr.Load(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ 配置有效: %s\n", mgr.GetConfigPath())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
