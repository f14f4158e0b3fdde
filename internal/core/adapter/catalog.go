package adapter

import (
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tgrelay/tgrelay/internal/ailink/driver/openai"
	"github.com/tgrelay/tgrelay/internal/core"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Backend kinds.
const (
	KindLink = "link"
	KindChat = "chat"
)

// Spec describes one backend: how it is presented to users and how it is reached.
type Spec struct {
	Key         string   `yaml:"key"`
	Command     string   `yaml:"command"`
	Kind        string   `yaml:"kind"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Usage       string   `yaml:"usage"`
	Style       string   `yaml:"style,omitempty"`
	BaseURL     string   `yaml:"base_url"`
	Path        string   `yaml:"path,omitempty"`
	Param       string   `yaml:"param,omitempty"`
	Fields      []string `yaml:"fields,omitempty"`
	Passthrough bool     `yaml:"passthrough,omitempty"`
	Hosts       []string `yaml:"hosts,omitempty"`

	// Runtime settings, never read from the catalog.
	Model          string        `yaml:"-"`
	APIKey         string        `yaml:"-"`
	SystemPrompt   string        `yaml:"-"`
	MaxPromptChars int           `yaml:"-"`
	Timeout        time.Duration `yaml:"-"`
}

// CommandValue returns the command the backend serves.
func (s Spec) CommandValue() core.Command {
	return core.ParseCommand(s.Command)
}

type catalogFile struct {
	Backends []Spec `yaml:"backends"`
}

var (
	catalogOnce sync.Once
	catalogList []Spec
	catalogErr  error
)

// Catalog returns a copy of the built-in backend specs in menu order.
func Catalog() ([]Spec, error) {
	catalogOnce.Do(func() {
		var file catalogFile
		if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
			catalogErr = fmt.Errorf("parse backend catalog: %w", err)
			return
		}
		for _, spec := range file.Backends {
			if spec.CommandValue().Class() != core.ClassBackend {
				catalogErr = fmt.Errorf("backend catalog: %q does not name a backend command", spec.Command)
				return
			}
		}
		catalogList = file.Backends
	})
	if catalogErr != nil {
		return nil, catalogErr
	}
	out := make([]Spec, len(catalogList))
	copy(out, catalogList)
	return out, nil
}

// Lookup returns the catalog spec for a backend key.
func Lookup(key string) (Spec, bool) {
	specs, err := Catalog()
	if err != nil {
		return Spec{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	for _, spec := range specs {
		if spec.Key == key {
			return spec, true
		}
	}
	return Spec{}, false
}

// Options carries the shared dependencies of every adapter.
type Options struct {
	Client   *http.Client
	Throttle *Throttle
}

// Build constructs the adapter described by spec.
func Build(spec Spec, opts Options) (Adapter, error) {
	if strings.TrimSpace(spec.Key) == "" {
		return nil, fmt.Errorf("backend key is required")
	}
	endpoint := Endpoint{BaseURL: spec.BaseURL, Path: spec.Path, Param: spec.Param}

	switch spec.Kind {
	case KindLink:
		if _, err := buildURL(endpoint, "probe"); err != nil {
			return nil, fmt.Errorf("backend %s: %w", spec.Key, err)
		}
		return &LinkAdapter{
			Key:         spec.Key,
			Endpoint:    endpoint,
			Fields:      spec.Fields,
			Passthrough: spec.Passthrough,
			Hosts:       spec.Hosts,
			Client:      opts.Client,
			Timeout:     spec.Timeout,
			Throttle:    opts.Throttle,
		}, nil
	case KindChat:
		chat := &ChatAdapter{
			Key:            spec.Key,
			Style:          spec.Style,
			Endpoint:       endpoint,
			Fields:         spec.Fields,
			Model:          spec.Model,
			SystemPrompt:   spec.SystemPrompt,
			MaxPromptChars: spec.MaxPromptChars,
			Client:         opts.Client,
			Timeout:        spec.Timeout,
			Throttle:       opts.Throttle,
		}
		switch spec.Style {
		case "", StyleQuery:
			chat.Style = StyleQuery
			if _, err := buildURL(endpoint, "probe"); err != nil {
				return nil, fmt.Errorf("backend %s: %w", spec.Key, err)
			}
		case StyleOpenAI:
			if strings.TrimSpace(spec.Model) == "" {
				return nil, fmt.Errorf("backend %s: model is required for openai style", spec.Key)
			}
			client := openai.NewClient(spec.BaseURL, spec.APIKey)
			client.HTTPClient = opts.Client
			chat.Driver = client
		default:
			return nil, fmt.Errorf("backend %s: unsupported style %q", spec.Key, spec.Style)
		}
		return chat, nil
	default:
		return nil, fmt.Errorf("backend %s: unsupported kind %q", spec.Key, spec.Kind)
	}
}
