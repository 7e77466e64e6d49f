package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/activity-harvester/internal/credential"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

type credentialsFile struct {
	Credentials []credential.Credential `yaml:"credentials"`
}

// LoadCredentials reads a YAML file of the form
//
//	credentials:
//	  - owner: alice
//	    token: XXXX
//	    calls_per_minute: 30
//
// keeping tokens out of the main config file.
func LoadCredentials(path string) ([]credential.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read credentials file: %w", harvest.ErrConfiguration, err)
	}
	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse credentials file: %w", harvest.ErrConfiguration, err)
	}
	return file.Credentials, nil
}
