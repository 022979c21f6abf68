package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/client"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/config"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/logging"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string

	errNotLoggedIn = errors.New("not logged in; run `fieldhand login` first")
)

func main() {
	rootCmd := newRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "fieldhand",
		Short:        "Command-line client for the agricultural social platform",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newFeedCommand(),
		newLikeCommand(),
		newCommunitiesCommand(),
		newJoinCommand(),
		newConversationsCommand(),
		newSendCommand(),
		newUnreadCommand(),
		newMockAPICommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Platform API base URL, including the /api prefix")
	cmd.PersistentFlags().Duration("api-timeout", defaults.GetDuration("api.timeout"), "Per-request timeout")
	cmd.PersistentFlags().Float64("requests-per-second", defaults.GetFloat64("api.requests_per_second"), "Outbound request rate limit (0 disables throttling)")
	cmd.PersistentFlags().String("credentials-path", defaults.GetString("credentials.path"), "SQLite file holding the session tokens")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Int("page-size", defaults.GetInt("feed.page_size"), "Feed and directory page size")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.timeout", "api-timeout")
	bindFlag(cmd, "api.requests_per_second", "requests-per-second")
	bindFlag(cmd, "credentials.path", "credentials-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "feed.page_size", "page-size")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type cliRuntime struct {
	config config.AppConfig
	logger *zap.Logger
}

func loadRuntime() (cliRuntime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return cliRuntime{}, err
	}
	logger, err := logging.NewLoggerWithFormat(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return cliRuntime{}, err
	}
	return cliRuntime{config: appConfig, logger: logger}, nil
}

// withClient builds the container, optionally resumes the stored session,
// runs fn and disposes the container.
func withClient(cmd *cobra.Command, restore bool, fn func(ctx context.Context, container *client.Client) error) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync() //nolint:errcheck

	container, err := client.New(client.Config{
		BaseURL:           rt.config.APIBaseURL,
		Timeout:           rt.config.APITimeout,
		RequestsPerSecond: rt.config.RequestsPerSecond,
		Burst:             rt.config.Burst,
		CredentialsPath:   rt.config.CredentialsPath,
		FeedPageSize:      rt.config.FeedPageSize,
		PollInterval:      rt.config.PollInterval,
		Logger:            rt.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if disposeErr := container.Dispose(); disposeErr != nil {
			rt.logger.Warn("dispose failed", zap.Error(disposeErr))
		}
	}()

	ctx := cmd.Context()
	if restore {
		if err := container.Restore(ctx); err != nil {
			if errors.Is(err, session.ErrNoStoredSession) {
				return errNotLoggedIn
			}
			return fmt.Errorf("restore session: %w", err)
		}
	}
	return fn(ctx, container)
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
