package config

import (
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

const (
	// EnvPrefix starts every environment override.
	EnvPrefix = "BCPIPELINE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load builds the configuration from defaults, the optional YAML file at
// path and BCPIPELINE_* environment variables, then validates it. An empty
// path skips the file layer; a non-empty path must exist.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	BCPIPELINE_TRAINING_TEST_SIZE -> training.test_size
//	BCPIPELINE_PATHS_MODELS_DIR   -> paths.models_dir
//	BCPIPELINE_EVALUATION_MODELS  -> evaluation.models (comma separated)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yamlv3.Marshal(Default())
	if err != nil {
		return nil, errors.Wrap(err, "marshal default config")
	}
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, errors.Wrap(err, "load default config")
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "load environment variables")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.Training.Models = splitList(cfg.Training.Models)
	cfg.Evaluation.Models = splitList(cfg.Evaluation.Models)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return &cfg, nil
}

// envKey maps BCPIPELINE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config file %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat config file %s", path)
	}
	if info.IsDir() {
		return nil, errors.Newf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, errors.Newf("config file %s is too large (%d bytes, max %d)", path, info.Size(), maxConfigFileSize)
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return content, nil
}
