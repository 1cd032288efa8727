package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatsync configuration",
	Long:  "View or modify the chatsync CLI configuration stored in ~/.chatsync/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'chatsync init <base-url>' to create one.")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("# %s\n", path)
		fmt.Println("[default]")
		fmt.Printf("base_url = %q\n", cfg.Default.BaseURL)
		if cfg.Default.WSURL != "" {
			fmt.Printf("ws_url = %q\n", cfg.Default.WSURL)
		}
		if cfg.Default.PageSize != 0 {
			fmt.Printf("page_size = %d\n", cfg.Default.PageSize)
		}
		fmt.Printf("auto_reconnect = %v\n", cfg.Default.AutoReconnect)
		fmt.Println()
		fmt.Println("[auth]")
		fmt.Printf("token = %q\n", maskToken(cfg.Auth.Token))
		fmt.Printf("user_id = %q\n", cfg.Auth.UserID)
		fmt.Printf("username = %q\n", cfg.Auth.Username)
		fmt.Printf("token_expires = %q\n", cfg.Auth.TokenExpires)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: chatsync config set default.base_url http://localhost:5000/api",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
