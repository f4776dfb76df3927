package geo

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrNoProviders = errors.New("provider list is empty")

// ProviderSpec is one entry of a providers file.
type ProviderSpec struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type providersFile struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// DefaultProviderSpecs lists the public services in fallback order. The last
// one only reports the caller's own IP, never a location, so it is skipped
// for visitors with a public address.
func DefaultProviderSpecs() []ProviderSpec {
	return []ProviderSpec{
		{Name: "ipapi.co", URL: "https://ipapi.co/{ip}/json/"},
		{Name: "ip-api.com", URL: "http://ip-api.com/json/{ip}"},
		{Name: "ipwho.is", URL: "https://ipwho.is/{ip}"},
		{Name: "ipify", URL: "https://api64.ipify.org?format=json"},
	}
}

// LoadProviderSpecs reads a YAML providers file:
//
//	providers:
//	  - name: ipapi.co
//	    url: https://ipapi.co/{ip}/json/
func LoadProviderSpecs(path string) ([]ProviderSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	for i, s := range f.Providers {
		if s.URL == "" {
			return nil, fmt.Errorf("provider #%d (%s): url is required", i+1, s.Name)
		}
		if s.Name == "" {
			f.Providers[i].Name = s.URL
		}
	}
	if len(f.Providers) == 0 {
		return nil, ErrNoProviders
	}
	return f.Providers, nil
}

func BuildHTTPProviders(specs []ProviderSpec, client *http.Client) []Provider {
	out := make([]Provider, 0, len(specs))
	for _, s := range specs {
		out = append(out, NewHTTPProvider(s.Name, s.URL, client))
	}
	return out
}
