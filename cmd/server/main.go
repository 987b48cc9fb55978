package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maynagashev/modhub/internal/config"
	"github.com/maynagashev/modhub/internal/identity"
	"github.com/maynagashev/modhub/internal/logger"
	"github.com/maynagashev/modhub/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// app - общее состояние команд: загруженная конфигурация и логгер.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

// main - точка входа. Вызывает команду и обрабатывает ошибку.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка выполнения: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "modhub",
		Short:         "Сервис публикации и версионирования модов",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Путь к YAML-файлу конфигурации (переменные окружения MODHUB_* важнее файла)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSweepCmd(a),
		newReconcileCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log

	if _, err = maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("Не удалось настроить GOMAXPROCS", zap.Error(err))
	}
	return nil
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер и фоновые задачи",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.cfg, a.log)
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить схему базы данных",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("миграции доступны только для драйвера %s", config.DriverPostgres)
			}
			db, err := repository.NewPostgresDB(cmd.Context(), a.cfg.Database.DSN, a.log)
			if err != nil {
				return err
			}
			defer db.Close()
			if err = repository.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			a.log.Info("Миграции применены")
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Однократно выполнить автоматическую проверку модов",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := setupDependencies(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer deps.close()
			n, err := deps.verifier.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info("Проверка завершена", zap.Int("verified", n))
			return nil
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Однократно сверить текущие проекции модов с версиями",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := setupDependencies(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer deps.close()
			n, err := deps.reconciler.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Info("Сверка завершена", zap.Int("fixed", n))
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <authorID>",
		Short: "Выпустить токен сессии для автора (для разработки)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("не задан auth.jwt_secret")
			}
			token, err := identity.NewJWTProvider(a.cfg.Auth.JWTSecret).Issue(args[0], name, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Имя автора в токене")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Срок действия токена")
	return cmd
}
