package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/upload-broker/internal/coordinator"
)

// globalOptions — общие флаги всех команд.
type globalOptions struct {
	brokerURL string
	token     string
	timeout   time.Duration
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "submitctl",
		Short: "Клиент Upload Broker",
		Long: `submitctl загружает файлы через presigned URL брокера и проводит
submission: сохранение, уведомление и подтверждение.

Флаги можно задать переменными окружения SUBMITCTL_BROKER_URL,
SUBMITCTL_TOKEN, SUBMITCTL_TIMEOUT, SUBMITCTL_LOG_LEVEL.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.brokerURL, "broker-url", envDefault("SUBMITCTL_BROKER_URL", "http://localhost:8040"), "базовый URL брокера")
	flags.StringVar(&opts.token, "token", os.Getenv("SUBMITCTL_TOKEN"), "bearer-токен API брокера")
	flags.DurationVar(&opts.timeout, "timeout", envDuration("SUBMITCTL_TIMEOUT", 5*time.Minute), "таймаут одного HTTP-запроса")
	flags.StringVar(&opts.logLevel, "log-level", envDefault("SUBMITCTL_LOG_LEVEL", "warn"), "уровень логирования (debug, info, warn, error)")

	root.AddCommand(
		newSubmitCmd(opts),
		newNotifyRetryCmd(opts),
		newURLCmd(opts),
	)
	return root
}

// logger пишет в stderr, чтобы stdout оставался машиночитаемым.
func (o *globalOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("неверный --log-level %q", o.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func (o *globalOptions) client(logger *slog.Logger) *coordinator.Client {
	return coordinator.NewClient(o.brokerURL, o.token, o.timeout, logger)
}

func envDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultVal
}
