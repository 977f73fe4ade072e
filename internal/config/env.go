package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are the environment variables that override the YAML file. The
// same names are accepted in a dotenv file.
var envKeys = []string{"host", "port", "log_level", "log_format", "log_file", "app_env"}

// ApplyEnv overlays values from the dotenv file at envFile (optional, may
// not exist) and from the process environment. Process environment wins.
func (c *Config) ApplyEnv(envFile string) error {
	v := viper.New()
	for _, key := range envKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if envFile != "" && fileExists(envFile) {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	if s := v.GetString("host"); s != "" {
		c.Server.Host = s
	}
	if s := v.GetString("port"); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", s, err)
		}
		c.Server.Port = port
	}
	if s := v.GetString("log_level"); s != "" {
		c.Logging.Level = s
	}
	if s := v.GetString("log_format"); s != "" {
		c.Logging.Format = s
	}
	if s := v.GetString("log_file"); s != "" {
		c.Logging.File = s
	}
	if s := v.GetString("app_env"); s != "" {
		c.Env = s
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
