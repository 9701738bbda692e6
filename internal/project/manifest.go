package project

import (
	"fmt"
	"os"

	"github.com/openmined/vcsws/internal/utils"
	"github.com/openmined/vcsws/internal/version"
	"github.com/spf13/viper"
)

// Manifest is the project level configuration kept in .vcsws/manifest.toml.
type Manifest struct {
	ProjectName  string `mapstructure:"project_name"`
	Authors      string `mapstructure:"authors"`
	VcswsVersion string `mapstructure:"vcsws_version"`
	IgnoreFile   string `mapstructure:"vcswsignore"`
}

func LoadManifest(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("manifest read '%s': %w", path, err)
	}

	var m Manifest
	if err := v.Unmarshal(&m); err != nil {
		return nil, fmt.Errorf("manifest decode '%s': %w", path, err)
	}
	return &m, nil
}

func writeDefaultManifest(path string, projectName string) error {
	if utils.FileExists(path) {
		return nil
	}
	content := fmt.Sprintf("project_name = %q\nauthors = %q\nvcsws_version = %q\nvcswsignore = %q\n",
		projectName, "", version.Version, DefaultIgnoreFileName)
	return os.WriteFile(path, []byte(content), 0o644)
}
