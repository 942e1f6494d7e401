package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrNoFeeds is returned when the feeds file lists no enabled feed.
var ErrNoFeeds = errors.New("no feeds configured")

const (
	SourceDir      = "dir"
	SourcePostgres = "postgres"
)

// Feed configures one GTFS feed.
type Feed struct {
	Name      string `yaml:"name" validate:"required,max=64,feedname"`
	Path      string `yaml:"path" validate:"required_if=Source dir"`
	Subfolder string `yaml:"subfolder"`
	Source    string `yaml:"source" validate:"oneof=dir postgres"`
	Database  string `yaml:"database"`
	City      string `yaml:"city"`

	Separator          string            `yaml:"separator" validate:"len=1"`
	SeparatorOverrides map[string]string `yaml:"separatorOverrides" validate:"dive,keys,oneof=routes shapes trips stops stop_times,endkeys,len=1"`
	Trim               bool              `yaml:"trim"`

	Densify           bool    `yaml:"densify"`
	DensifyStepMeters float64 `yaml:"densifyStepMeters" validate:"gte=0"`

	NoSegments                   bool `yaml:"noSegments"`
	Disabled                     bool `yaml:"disabled"`
	UseRouteShortNameAsRouteCode bool `yaml:"useRouteShortNameAsRouteCode"`
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds" validate:"dive"`
}

// Dir returns the directory holding the feed's tables.
func (f Feed) Dir() string {
	if f.Subfolder == "" {
		return f.Path
	}
	return filepath.Join(f.Path, f.Subfolder)
}

// SeparatorRune returns the delimiter for table, honouring overrides.
func (f Feed) SeparatorRune(table string) rune {
	s := f.Separator
	if o, ok := f.SeparatorOverrides[table]; ok {
		s = o
	}
	if s == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("feedname", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
				return false
			}
		}
		return true
	})
	return v
}

// LoadFeeds reads and validates the feeds file, returning enabled feeds in
// file order.
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFeeds(data)
}

func ParseFeeds(data []byte) ([]Feed, error) {
	var ff feedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse feeds: %w", err)
	}

	seen := map[string]bool{}
	for i := range ff.Feeds {
		f := &ff.Feeds[i]
		if f.Source == "" {
			f.Source = SourceDir
		}
		if f.Separator == "" {
			f.Separator = ","
		}
		if f.DensifyStepMeters == 0 {
			f.DensifyStepMeters = 50
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true
	}

	if err := newValidator().Struct(ff); err != nil {
		return nil, fmt.Errorf("validate feeds: %w", err)
	}

	var enabled []Feed
	for _, f := range ff.Feeds {
		if !f.Disabled {
			enabled = append(enabled, f)
		}
	}
	if len(enabled) == 0 {
		return nil, ErrNoFeeds
	}
	return enabled, nil
}
