package stubbackend

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Users []UserSeed `yaml:"users"`
}

// DefaultUsers are the accounts served when no seed file is given.
func DefaultUsers() []UserSeed {
	return []UserSeed{
		{Email: "admin@example.com", Name: "Dashboard Admin", Role: "admin", Password: "admin-password"},
		{Email: "viewer@example.com", Name: "Campaign Viewer", Role: "viewer", Password: "viewer-password"},
	}
}

// LoadUsers reads a yaml document with a top-level users list.
func LoadUsers(path string) ([]UserSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stub backend: read seed file: %w", err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("stub backend: parse seed file %s: %w", path, err)
	}
	return seeds.Users, nil
}
