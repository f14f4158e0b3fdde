package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tgrelay/tgrelay/internal/core"
)

func TestCatalogCoversEveryBackendCommand(t *testing.T) {
	specs, err := Catalog()
	require.NoError(t, err)

	served := map[core.Command]bool{}
	for _, spec := range specs {
		require.NotEmpty(t, spec.Title, spec.Key)
		require.NotEmpty(t, spec.Usage, spec.Key)
		served[spec.CommandValue()] = true
	}
	for _, cmd := range core.AllCommands {
		if cmd.Class() == core.ClassBackend {
			require.True(t, served[cmd], cmd.String())
		}
	}
}

func TestBuildFromCatalog(t *testing.T) {
	specs, err := Catalog()
	require.NoError(t, err)

	for _, spec := range specs {
		a, err := Build(spec, Options{})
		require.NoError(t, err, spec.Key)
		require.Equal(t, spec.Key, a.Name())
	}

	spec, ok := Lookup("terabox")
	require.True(t, ok)
	a, err := Build(spec, Options{})
	require.NoError(t, err)
	link, ok := a.(*LinkAdapter)
	require.True(t, ok)
	require.Contains(t, link.Hosts, "terabox.com")
}

func TestBuildRejectsBadSpecs(t *testing.T) {
	_, err := Build(Spec{Key: "x", Kind: "ftp"}, Options{})
	require.Error(t, err)

	_, err = Build(Spec{Key: "x", Kind: KindLink, BaseURL: "not a url"}, Options{})
	require.Error(t, err)

	_, err = Build(Spec{Key: "x", Kind: KindChat, Style: StyleOpenAI}, Options{})
	require.ErrorContains(t, err, "model")

	a, err := Build(Spec{Key: "x", Kind: KindChat, Style: StyleOpenAI, Model: "m", APIKey: "k"}, Options{})
	require.NoError(t, err)
	require.NotNil(t, a.(*ChatAdapter).Driver)
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("nope")
	require.False(t, ok)
}
