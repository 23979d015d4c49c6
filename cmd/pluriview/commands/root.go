package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/pluriview/internal/config"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "pluriview",
		Short: "pluriview - live previews of many windows on one canvas",
		Long: `pluriview captures live windows and composes them as resizable, croppable
previews on a pannable, zoomable canvas.

Features:
  • Capture any X11 window at a per-preview frame-rate cap
  • One capture session per window, shared by all its previews
  • Automatic reconnection with exponential backoff
  • Crop, resize, z-order and multi-select previews
  • Layout persistence with window re-matching on restart
  • REST and WebSocket API, MJPEG stream of the composed canvas`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pluriview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8090)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("layout", "", "layout file (default is layout.json beside the config)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("layout_path", rootCmd.PersistentFlags().Lookup("layout"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.SetEnvPrefix("PLURIVIEW")
	viper.AutomaticEnv()
}

func initConfig() {
	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		logger.WithComponent("config").Warn().Err(err).Msg("Failed to read config file")
	}
}

// readConfig loads the config file into v so the logger sees its log level
// before a command runs. A missing file is not an error.
func readConfig(v *viper.Viper, path string) error {
	if path == "" {
		dir, err := config.DefaultDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag and environment
// overrides for this run without writing them back.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if path := viper.GetString("layout_path"); path != "" {
		cfg.LayoutPath = path
	} else {
		cfg.LayoutPath = configMgr.LayoutPath()
	}
	return configMgr, cfg, nil
}

func pretty() bool {
	return viper.GetBool("pretty")
}
