package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"forecaster/internal/dispatch"
	"forecaster/internal/feedback"
	"forecaster/internal/fingerprint"
	"forecaster/internal/logging"
	"forecaster/internal/matcher"
	"forecaster/internal/semantic"
	"forecaster/internal/service"
)

// AppConfig 应用配置
type AppConfig struct {
	Server      ServerConfig        `toml:"server"`
	Data        DataConfig          `toml:"data"`
	Fingerprint fingerprint.Options `toml:"fingerprint"`
	Matching    MatchingConfig      `toml:"matching"`
	Dispatch    dispatch.Policy     `toml:"dispatch"`
	Feedback    feedback.Options    `toml:"feedback"`
	Learning    LearningConfig      `toml:"learning"`
	Semantic    semantic.Config     `toml:"semantic"`
	Log         logging.Config      `toml:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port             int  `toml:"port"`
	DevMode          bool `toml:"dev_mode"`
	MaxUploadMB      int  `toml:"max_upload_mb"`
	UploadTTLMinutes int  `toml:"upload_ttl_minutes"` // 上传会话（保存模板用）有效期
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
	DBFile  string `toml:"db_file"`
}

// MatchingConfig 相似度匹配配置
type MatchingConfig struct {
	Weights matcher.Weights `toml:"weights"`
}

// LearningConfig 学习指标配置
type LearningConfig struct {
	CostPerHit float64 `toml:"cost_per_hit"`
	StatsDays  int     `toml:"stats_days"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	FileFound     bool
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	svc := service.DefaultOptions()
	return &AppConfig{
		Server: ServerConfig{
			Port:             20262,
			DevMode:          false,
			MaxUploadMB:      20,
			UploadTTLMinutes: 30,
		},
		Data: DataConfig{
			DataDir: "data",
			DBFile:  "forecaster.db",
		},
		Fingerprint: svc.Fingerprint,
		Matching:    MatchingConfig{Weights: svc.Weights},
		Dispatch:    svc.Dispatch,
		Feedback:    svc.Feedback,
		Learning: LearningConfig{
			CostPerHit: svc.CostPerHit,
			StatsDays:  svc.StatsDays,
		},
		Semantic: semantic.DefaultConfig(),
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 与 .env 加载配置
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return LoadFrom(exeDir)
}

// LoadFrom 从指定目录加载 config.toml 与 .env，再应用环境变量覆盖
func LoadFrom(dir string) (*AppConfig, LoadConfigInfo, error) {
	config := DefaultConfig()
	info := LoadConfigInfo{Path: filepath.Join(dir, "config.toml")}

	// .env 不覆盖已存在的环境变量
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, info, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(info.Path)
	switch {
	case err == nil:
		info.FileFound = true
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("failed to parse %s: %w", info.Path, err)
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	if err := applyEnv(config, &info); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖
func applyEnv(config *AppConfig, info *LoadConfigInfo) error {
	config.Semantic.APIKey = os.Getenv("GEMINI_API_KEY")

	if v := os.Getenv("FORECASTER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FORECASTER_PORT %q: %w", v, err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	if v := os.Getenv("FORECASTER_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("FORECASTER_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("FORECASTER_GEMINI_MODEL"); v != "" {
		config.Semantic.Model = v
	}
	return nil
}

// Validate 校验阈值、权重等配置是否自洽
func (c *AppConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Data.DBFile == "" {
		return errors.New("data.db_file is required")
	}
	if err := c.Fingerprint.Validate(); err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	if err := c.Matching.Weights.Validate(); err != nil {
		return fmt.Errorf("matching.weights: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if err := c.Feedback.Validate(); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if c.Learning.CostPerHit < 0 {
		return errors.New("learning.cost_per_hit must be non-negative")
	}
	return nil
}

// ServiceOptions 转换为服务参数
func (c *AppConfig) ServiceOptions() service.Options {
	return service.Options{
		Fingerprint: c.Fingerprint,
		Weights:     c.Matching.Weights,
		Dispatch:    c.Dispatch,
		Feedback:    c.Feedback,
		CostPerHit:  c.Learning.CostPerHit,
		StatsDays:   c.Learning.StatsDays,
	}
}

// SaveConfig 保存配置到指定目录的 config.toml
func SaveConfig(config *AppConfig, dir string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.toml"), data, 0644)
}

// EnsureDataDir 确保数据目录存在；相对路径基于 baseDir 解析
func EnsureDataDir(config *AppConfig, baseDir string) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(baseDir, dataDir)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// DBPath 数据库文件路径
func DBPath(config *AppConfig, dataDir string) string {
	return filepath.Join(dataDir, config.Data.DBFile)
}
