package delivery

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"storefront/internal/models"
)

//go:embed locations.yaml
var defaultDataset []byte

type datasetFile struct {
	Counties []struct {
		Name        string `yaml:"name"`
		SubCounties []struct {
			Name      string `yaml:"name"`
			Locations []struct {
				Name string  `yaml:"name"`
				Fee  float64 `yaml:"fee"`
			} `yaml:"locations"`
		} `yaml:"subCounties"`
	} `yaml:"counties"`
}

// ParseDataset flattens a county -> sub-county -> location YAML document.
func ParseDataset(data []byte) ([]models.DeliveryLocation, error) {
	var file datasetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse delivery dataset: %w", err)
	}

	var out []models.DeliveryLocation
	for _, county := range file.Counties {
		for _, sub := range county.SubCounties {
			for _, loc := range sub.Locations {
				item := models.DeliveryLocation{
					County:    county.Name,
					SubCounty: sub.Name,
					Location:  loc.Name,
					Fee:       loc.Fee,
					IsActive:  true,
				}
				if strings.TrimSpace(item.County) == "" || strings.TrimSpace(item.SubCounty) == "" || strings.TrimSpace(item.Location) == "" {
					return nil, fmt.Errorf("delivery dataset: blank name under %q/%q", county.Name, sub.Name)
				}
				if item.Fee < 0 {
					return nil, fmt.Errorf("delivery dataset: negative fee for %s/%s/%s", county.Name, sub.Name, loc.Name)
				}
				item.SetKeys()
				out = append(out, item)
			}
		}
	}
	return out, nil
}

// DefaultDataset returns the embedded seed locations.
func DefaultDataset() ([]models.DeliveryLocation, error) {
	return ParseDataset(defaultDataset)
}
