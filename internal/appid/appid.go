// Package appid resolves the tgrelay app identity, falling back to the copy
// embedded in the binary when no `.fulmen/app.yaml` is found.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/tgrelay/tgrelay/internal/assets/appidentity"
)

// DefaultName is used when the identity does not name the binary.
const DefaultName = "tgrelay"

func init() {
	// An explicit FULMEN_APP_IDENTITY_PATH still wins over the embedded copy.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the process-wide app identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity's environment prefix, always ending in "_".
func EnvPrefix(identity *appidentity.Identity) string {
	prefix := strings.ToUpper(strings.TrimSpace(DefaultName)) + "_"
	if identity != nil && strings.TrimSpace(identity.EnvPrefix) != "" {
		prefix = strings.TrimSpace(identity.EnvPrefix)
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// Names returns the config and binary names, defaulting both to DefaultName.
func Names(identity *appidentity.Identity) (configName string, binaryName string) {
	configName, binaryName = DefaultName, DefaultName
	if identity == nil {
		return configName, binaryName
	}
	if strings.TrimSpace(identity.ConfigName) != "" {
		configName = identity.ConfigName
	}
	if strings.TrimSpace(identity.BinaryName) != "" {
		binaryName = identity.BinaryName
	}
	return configName, binaryName
}
