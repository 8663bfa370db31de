package config

import (
	"fmt"
	"os"
	"strings"

	saltconfig "github.com/raystack/salt/config"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	DefaultFilename      = "custodian"
	DefaultFileExtension = "yaml"
	DefaultEnvPrefix     = "CUSTODIAN"
)

// Load reads configuration from the given directory (the working
// directory when empty), overlaid with CUSTODIAN_* environment
// variables, and fills defaults.
func Load(dirPaths ...string) (*Custodian, error) {
	fs := afero.NewReadOnlyFs(afero.NewOsFs())

	var targetPath string
	if len(dirPaths) > 0 {
		targetPath = dirPaths[0]
	} else {
		currPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current work directory path: %w", err)
		}
		targetPath = currPath
	}

	cfg := Custodian{}
	if err := loadConfig(&cfg, fs, targetPath); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	cfg.Defaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadConfig(cfg interface{}, fs afero.Fs, dirPath string) error {
	v := viper.New()
	v.SetConfigName(DefaultFilename)
	v.SetConfigType(DefaultFileExtension)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetFs(fs)

	opts := []saltconfig.LoaderOption{
		saltconfig.WithViper(v),
		saltconfig.WithName(DefaultFilename),
		saltconfig.WithType(DefaultFileExtension),
		saltconfig.WithEnvPrefix(DefaultEnvPrefix),
		saltconfig.WithEnvKeyReplacer(".", "_"),
		saltconfig.WithPath(dirPath),
	}

	l := saltconfig.NewLoader(opts...)
	return l.Load(cfg)
}
