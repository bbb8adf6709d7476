package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"forecaster/internal/config"
	"forecaster/internal/logging"
	"forecaster/internal/semantic"
	"forecaster/internal/service"
	"forecaster/internal/store"
)

type rootOptions struct {
	configDir string
	dataDir   string
	noColor   bool
	verbose   bool
}

// app 命令运行所需的依赖
type app struct {
	cfg   *config.AppConfig
	log   zerolog.Logger
	store *store.Store
	svc   *service.Service
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error().Err(err).Msg("failed to close store")
		}
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "forecaster",
		Short: "Forecast spreadsheet template learning",
		Long: `forecaster fingerprints uploaded forecast workbooks, matches them against learned
templates and extracts model/period/quantity records, falling back to semantic
analysis when no template fits.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configDir, "config-dir", "c", "", "directory holding config.toml and .env (default: executable dir)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newTemplatesCmd(opts),
		newFingerprintCmd(opts),
	)
	return cmd
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig(opts *rootOptions) (*config.AppConfig, config.LoadConfigInfo, string, error) {
	baseDir := opts.configDir
	if baseDir == "" {
		dir, err := config.GetExeDir()
		if err != nil {
			dir = "."
		}
		baseDir = dir
	}

	cfg, info, err := config.LoadFrom(baseDir)
	if err != nil {
		return nil, info, "", err
	}
	if opts.dataDir != "" {
		cfg.Data.DataDir = opts.dataDir
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, info, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, info, baseDir, nil
}

// openApp 打开存储并组装服务
func openApp(cfg *config.AppConfig, baseDir string) (*app, error) {
	log := logging.New(cfg.Log, os.Stderr)

	dataDir, err := config.EnsureDataDir(cfg, baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(config.DBPath(cfg, dataDir))
	if err != nil {
		return nil, err
	}

	var sem semantic.Extractor
	if gemini, err := semantic.NewGemini(cfg.Semantic, log); err == nil {
		sem = gemini
	} else {
		log.Warn().Err(err).Msg("GEMINI_API_KEY not set, semantic analysis disabled")
	}

	svc, err := service.New(st, sem, cfg.ServiceOptions(), log)
	if err != nil {
		st.Close()
		return nil, err
	}

	log.Debug().Str("data_dir", dataDir).Str("model", cfg.Semantic.Model).Msg("application ready")
	return &app{cfg: cfg, log: log, store: st, svc: svc}, nil
}

// withApp 加载配置、打开应用并在结束后关闭
func withApp(opts *rootOptions, fn func(a *app) error) error {
	cfg, _, baseDir, err := loadConfig(opts)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, baseDir)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
