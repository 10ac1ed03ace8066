package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestYAML = `name: verse
version: 1.0.0
dataSources:
  - name: PairFactory
    source:
      address: "0xc7aA721d75df123247b46cb3Fa99cd4EE78b6c1F"
      abi: PairFactory
      startBlock: 9000000
    mapping:
      entities:
        - Factory
      eventHandlers:
        - event: PairCreated(indexed address,indexed address,address)
          handler: handlePairCreated
context:
  factoryAddress: "0xc7aA721d75df123247b46cb3Fa99cd4EE78b6c1F"
`

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))

	l := NewManifestLoader(zerolog.Nop())
	manifest, err := l.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "verse", manifest.Name)
	assert.Equal(t, "1.0.0", manifest.Version)
	require.Len(t, manifest.DataSources, 1)

	ds := manifest.DataSources[0]
	require.NotNil(t, ds.Source.Address)
	assert.Equal(t, "0xc7aA721d75df123247b46cb3Fa99cd4EE78b6c1F", *ds.Source.Address)
	require.NotNil(t, ds.Source.StartBlock)
	assert.Equal(t, uint64(9000000), *ds.Source.StartBlock)

	// Omitted fields get defaults.
	assert.Equal(t, "ethereum/contract", ds.Kind)
	assert.Equal(t, "rinkeby", ds.Network)
	assert.Equal(t, "ethereum/events", ds.Mapping.Kind)

	assert.Equal(t, "0xc7aA721d75df123247b46cb3Fa99cd4EE78b6c1F", manifest.Context["factoryAddress"])
}

func TestParseManifestAppliesDefaultsBeforeValidation(t *testing.T) {
	l := NewManifestLoader(zerolog.Nop())

	// Omits kind, network, and mapping.kind entirely; defaults must be
	// applied before validation runs or this is rejected.
	manifest, err := l.ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	assert.Equal(t, "ethereum/contract", manifest.DataSources[0].Kind)
	assert.Equal(t, "ethereum/events", manifest.DataSources[0].Mapping.Kind)
}

func TestParseManifestRejectsInvalid(t *testing.T) {
	l := NewManifestLoader(zerolog.Nop())

	_, err := l.ParseManifest([]byte("name: verse\n"))
	assert.Error(t, err)

	_, err = l.ParseManifest([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestLoadFromDirectorySkipsBroken(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verse.yaml"), []byte(manifestYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: only-a-name\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	l := NewManifestLoader(zerolog.Nop())
	manifests, err := l.LoadFromDirectory(dir)
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "verse", manifests[0].Name)
}

func TestValidateManifestDirectoryDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(manifestYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(manifestYAML), 0o644))

	l := NewManifestLoader(zerolog.Nop())
	err := l.ValidateManifestDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate module name")
}
