package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	chatsync "github.com/wardSultan96/chatProject-frontend"
)

var (
	loginPassword       string
	registerEmail       string
	registerPassword    string
	registerDisplayName string
)

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (prompted when empty)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "Password (prompted when empty)")
	registerCmd.Flags().StringVar(&registerDisplayName, "display-name", "", "Display name (defaults to the username)")
	_ = registerCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Default.BaseURL == "" {
			return errors.New("no server configured, run 'chatsync init <base-url>' first")
		}
		password, err := passwordOrPrompt(loginPassword)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := chatsync.NewAPIClient(libConfig(cfg)).Login(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := storeLogin(cfg, res); err != nil {
			return err
		}

		fmt.Println("Login successful!")
		fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		if cfg.Auth.TokenExpires != "" {
			fmt.Printf("  Token expires: %s\n", cfg.Auth.TokenExpires)
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Default.BaseURL == "" {
			return errors.New("no server configured, run 'chatsync init <base-url>' first")
		}
		password, err := passwordOrPrompt(registerPassword)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		api := chatsync.NewAPIClient(libConfig(cfg))
		res, err := api.Register(ctx, args[0], registerEmail, password, registerDisplayName)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		if err := storeLogin(cfg, res); err != nil {
			return err
		}

		fmt.Println("Registration successful!")
		fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

// storeLogin saves the token and the identity it carries.
func storeLogin(cfg *Config, res *chatsync.LoginResult) error {
	if res.AccessToken == "" {
		return errors.New("server returned no access token")
	}
	cfg.Auth = ConfigAuth{
		Token:    res.AccessToken,
		UserID:   res.User.ID,
		Username: res.User.Username,
	}
	if info, err := parseToken(res.AccessToken); err == nil {
		if cfg.Auth.UserID == "" {
			cfg.Auth.UserID = info.UserID
		}
		if cfg.Auth.Username == "" {
			cfg.Auth.Username = info.Username
		}
		if !info.Expires.IsZero() {
			cfg.Auth.TokenExpires = info.Expires.UTC().Format(time.RFC3339)
		}
	} else {
		logger.Debug("token is not a readable JWT")
	}

	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func passwordOrPrompt(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}
