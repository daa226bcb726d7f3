package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley - team messaging server",
		Long: `Parley is the server core of a team messaging platform:
conversations, real-time delivery, reactions, polls, and an
end-to-end encryption key plane.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			cfg = config.Load()
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows the effective configuration with secrets masked.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Server:")
			fmt.Printf("  Host:     %s\n", cfg.Server.Host)
			fmt.Printf("  Port:     %d\n", cfg.Server.Port)
			fmt.Printf("  Origins:  %v\n", cfg.Server.AllowedOrigins)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  URL:       %s\n", maskSecret(cfg.Database.URL))
			fmt.Printf("  MaxConns:  %d\n", cfg.Database.MaxConns)
			fmt.Println()

			fmt.Println("Redis:")
			fmt.Printf("  Addr:    %s\n", cfg.Redis.Addr)
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.IsRedisConfigured()))
			fmt.Println()

			fmt.Println("Auth:")
			fmt.Printf("  JWT Secret:  %s\n", maskSecret(cfg.Auth.JWTSecret))
			fmt.Printf("  Clock Skew:  %s\n", cfg.Auth.ClockSkew)
			fmt.Println()

			fmt.Println("Identity provider:")
			fmt.Printf("  URL:     %s\n", cfg.Identity.URL)
			fmt.Printf("  APIKey:  %s\n", maskSecret(cfg.Identity.APIKey))
			fmt.Printf("  Status:  %s\n", boolStatus(cfg.IsIdentityConfigured()))
			fmt.Println()

			fmt.Println("File storage:")
			fmt.Printf("  Endpoint:  %s\n", cfg.Files.Endpoint)
			fmt.Printf("  Bucket:    %s\n", cfg.Files.Bucket)
			fmt.Printf("  Status:    %s\n", boolStatus(cfg.IsFilesConfigured()))
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  PARLEY_SERVER_HOST, PARLEY_SERVER_PORT, PARLEY_ALLOWED_ORIGINS")
			fmt.Println("  PARLEY_POSTGRES_URL, PARLEY_REDIS_ADDR")
			fmt.Println("  PARLEY_JWT_SECRET, PARLEY_IDENTITY_URL, PARLEY_IDENTITY_API_KEY")
			fmt.Println("  PARLEY_S3_ENDPOINT, PARLEY_S3_ACCESS_KEY, PARLEY_S3_SECRET_KEY, PARLEY_S3_BUCKET")
			fmt.Println("  PARLEY_OTEL_ENDPOINT, PARLEY_ENVIRONMENT")
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Parley %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func boolStatus(configured bool) string {
	if configured {
		return "configured"
	}
	return "not configured"
}
