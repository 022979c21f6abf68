package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/mockapi"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newMockAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mockapi",
		Short: "Serve a seeded in-memory platform API for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockAPI(cmd.Context())
		},
	}
	defaults := viper.GetViper()
	cmd.Flags().String("address", defaults.GetString("mockapi.address"), "HTTP listen address")
	cmd.Flags().String("signing-secret", "", "Token signing secret (overrides env)")
	if err := viper.BindPFlag("mockapi.address", cmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("mockapi.signing_secret", cmd.Flags().Lookup("signing-secret")); err != nil {
		panic(err)
	}
	return cmd
}

func runMockAPI(ctx context.Context) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)
	handler, _, err := mockapi.NewServer(mockapi.ServerConfig{
		SigningSecret: rt.config.MockAPISigningKey,
		Seed:          true,
		Logger:        rt.logger.Named("mockapi"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              rt.config.MockAPIAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("mock api starting",
			zap.String("address", rt.config.MockAPIAddress),
			zap.String("seed_user", mockapi.FarmerEmail))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
