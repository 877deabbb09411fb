// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/mentora-ai/mentora/pkg/types"
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/mentora/)
// 2. Project config (mentora.json / mentora.jsonc in the working directory)
// 3. MENTORA_CONFIG file
// 4. MENTORA_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "mentora.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "mentora.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "mentora.json"), directory)
		loadOnce(filepath.Join(directory, "mentora.jsonc"), directory)
	}

	// 3. MENTORA_CONFIG file override
	if configPath := os.Getenv("MENTORA_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. MENTORA_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("MENTORA_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config.WithDefaults(), nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.ToolDeadlineMS > 0 {
		target.ToolDeadlineMS = source.ToolDeadlineMS
	}
	if source.InactivityMS > 0 {
		target.InactivityMS = source.InactivityMS
	}
	if source.TickMS > 0 {
		target.TickMS = source.TickMS
	}
	if source.TransportReconnectGraceMS > 0 {
		target.TransportReconnectGraceMS = source.TransportReconnectGraceMS
	}
	if source.ExecutorConcurrencyCap > 0 {
		target.ExecutorConcurrencyCap = source.ExecutorConcurrencyCap
	}
	if source.ExecutorQueueCap > 0 {
		target.ExecutorQueueCap = source.ExecutorQueueCap
	}
	if source.HistoryRetained > 0 {
		target.HistoryRetained = source.HistoryRetained
	}
	if source.PersistenceEnabled != nil {
		target.PersistenceEnabled = source.PersistenceEnabled
	}
	if source.DiagnosisConfidenceThreshold != nil {
		target.DiagnosisConfidenceThreshold = source.DiagnosisConfidenceThreshold
	}
	if source.SyllabusPath != "" {
		target.SyllabusPath = source.SyllabusPath
	}
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = &types.ProviderConfig{}
		}
		if source.Provider.APIKey != "" {
			target.Provider.APIKey = source.Provider.APIKey
		}
		if source.Provider.BaseURL != "" {
			target.Provider.BaseURL = source.Provider.BaseURL
		}
		if source.Provider.Model != "" {
			target.Provider.Model = source.Provider.Model
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Provider == nil {
			config.Provider = &types.ProviderConfig{}
		}
		if config.Provider.APIKey == "" {
			config.Provider.APIKey = apiKey
		}
	}

	if model := os.Getenv("MENTORA_MODEL"); model != "" {
		if config.Provider == nil {
			config.Provider = &types.ProviderConfig{}
		}
		config.Provider.Model = model
	}

	if path := os.Getenv("MENTORA_SYLLABUS"); path != "" {
		config.SyllabusPath = path
	}

	if v := os.Getenv("MENTORA_TOOL_DEADLINE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ToolDeadlineMS = n
		}
	}

	if v := os.Getenv("MENTORA_INACTIVITY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.InactivityMS = n
		}
	}

	if v := os.Getenv("MENTORA_PERSISTENCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.PersistenceEnabled = &b
		}
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
