package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gameSettings struct {
	Volume     float64  `json:"volume" yaml:"volume"`
	Difficulty int      `json:"difficulty" yaml:"difficulty"`
	PlayerName string   `json:"player_name,omitempty" yaml:"player_name,omitempty"`
	Unlocked   []string `json:"unlocked,omitempty" yaml:"unlocked,omitempty"`
}

type saveGame struct {
	Level int `json:"level" yaml:"level"`
	Gold  int `json:"gold" yaml:"gold"`
}

func containerEntries(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestDevContainerFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	settings := NewVar(gameSettings{Volume: 0.5})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))
	require.NoError(t, m.Initialize())

	require.NoError(t, m.Tick())

	entries := containerEntries(t, path)
	var got gameSettings
	require.NoError(t, json.Unmarshal(entries["Settings"], &got))
	assert.Equal(t, 0.5, got.Volume)

	settings.Update(func(s gameSettings) gameSettings {
		s.Volume = 0.9
		return s
	})
	require.NoError(t, m.Tick())

	entries = containerEntries(t, path)
	require.NoError(t, json.Unmarshal(entries["Settings"], &got))
	assert.Equal(t, 0.9, got.Volume)

	// Only the record entry plus container metadata.
	assert.Len(t, entries, 3)
	assert.Contains(t, entries, metaLastSaved)
	assert.Contains(t, entries, metaVersion)
}

func TestTickSkipsCleanRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	settings := NewVar(gameSettings{Volume: 0.5})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	// Removing the file exposes any redundant write: a clean record must
	// not touch its backend, so the file must stay gone.
	require.NoError(t, os.Remove(path))
	require.NoError(t, m.Tick())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	settings.Set(gameSettings{Volume: 0.6})
	require.NoError(t, m.Tick())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMergePreservesSiblingsAndUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	seed := []byte(`{
		"Settings": {"volume": 0.5, "difficulty": 2},
		"Legacy": {"keep": true}
	}`)
	require.NoError(t, os.WriteFile(path, seed, 0644))

	settings := NewVar(gameSettings{})
	game := NewVar(saveGame{Level: 1})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))
	require.NoError(t, m.Register(RecordDescriptor{Name: "Game", Accessor: game}))
	require.NoError(t, m.Initialize())

	// Settings was loaded (clean); Game has no snapshot yet (dirty).
	assert.Equal(t, 0.5, settings.Get().Volume)

	require.NoError(t, m.Tick())
	first := containerEntries(t, path)
	require.Contains(t, first, "Legacy")
	require.Contains(t, first, "Settings")
	require.Contains(t, first, "Game")

	game.Update(func(g saveGame) saveGame {
		g.Level = 3
		return g
	})
	require.NoError(t, m.Tick())

	second := containerEntries(t, path)
	assert.Equal(t, first["Settings"], second["Settings"], "clean sibling payload must be byte-for-byte untouched")
	assert.Equal(t, first["Legacy"], second["Legacy"], "unregistered entries must survive merge-writes")
	assert.NotEqual(t, first["Game"], second["Game"])

	var got saveGame
	require.NoError(t, json.Unmarshal(second["Game"], &got))
	assert.Equal(t, 3, got.Level)
}

func TestInitializeMissingFileUsesDefaults(t *testing.T) {
	settings := NewVar(gameSettings{Volume: 0.7})

	m := NewManager(Options{ContainerFile: filepath.Join(t.TempDir(), "persist.json")})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))

	require.NoError(t, m.Initialize(), "a missing backend is not an error")
	assert.Equal(t, 0.7, settings.Get().Volume)

	state, err := m.BackendState("Settings")
	require.NoError(t, err)
	assert.Nil(t, state, "no snapshot exists before the first save")
}

func TestInitializeMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	garbage := []byte(`{not json at all`)
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	settings := NewVar(gameSettings{Volume: 0.7})
	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))

	err := m.Initialize()
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "Settings", loadErr.Name)

	// The record falls back to its default and the corrupt file is left
	// untouched until the next successful save.
	assert.Equal(t, 0.7, settings.Get().Volume)
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, garbage, data)

	// The manager stays usable; the next save replaces the corrupt file.
	settings.Set(gameSettings{Volume: 0.8})
	require.NoError(t, m.Tick())
	entries := containerEntries(t, path)
	var got gameSettings
	require.NoError(t, json.Unmarshal(entries["Settings"], &got))
	assert.Equal(t, 0.8, got.Volume)
}

func TestSecureEndToEnd(t *testing.T) {
	tmp := t.TempDir()
	SetTestDirs(filepath.Join(tmp, "config"), filepath.Join(tmp, "data"))
	defer ResetDirs()

	secret := []byte("correct horse battery staple")
	opts := Options{
		Mode:          ModeProduction,
		App:           AppInfo{Vendor: "acme", Name: "demo"},
		Secret:        secret,
		ContainerFile: filepath.Join(tmp, "persist.json"),
	}

	game := NewVar(saveGame{Level: 1})
	m := NewManager(opts)
	require.NoError(t, m.Register(RecordDescriptor{Name: "Save", Strategy: StrategySecure, Accessor: game}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	sealedPath := filepath.Join(tmp, "data", "acme", "demo", "Save"+SealedExtension)
	raw, err := os.ReadFile(sealedPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "level", "payload must not be stored in plaintext")

	t.Run("wrong key", func(t *testing.T) {
		box, err := NewSecretBox([]byte("wrong key"))
		require.NoError(t, err)
		_, err = box.Open(raw)
		assert.ErrorIs(t, err, ErrTampered)
	})

	t.Run("right key", func(t *testing.T) {
		box, err := NewSecretBox(secret)
		require.NoError(t, err)
		plaintext, err := box.Open(raw)
		require.NoError(t, err)
		var got saveGame
		require.NoError(t, json.Unmarshal(plaintext, &got))
		assert.Equal(t, 1, got.Level)
	})

	t.Run("reload", func(t *testing.T) {
		game2 := NewVar(saveGame{})
		m2 := NewManager(opts)
		require.NoError(t, m2.Register(RecordDescriptor{Name: "Save", Strategy: StrategySecure, Accessor: game2}))
		require.NoError(t, m2.Initialize())
		assert.Equal(t, 1, game2.Get().Level)
	})

	t.Run("tampered file", func(t *testing.T) {
		corrupt := bytes.Clone(raw)
		corrupt[len(corrupt)/2] ^= 0xff
		require.NoError(t, os.WriteFile(sealedPath, corrupt, 0600))

		game3 := NewVar(saveGame{Level: 42})
		m3 := NewManager(opts)
		require.NoError(t, m3.Register(RecordDescriptor{Name: "Save", Strategy: StrategySecure, Accessor: game3}))
		err := m3.Initialize()
		require.ErrorIs(t, err, ErrTampered)
		assert.Equal(t, 42, game3.Get().Level, "tampered data must not be partially applied")
	})
}

func TestSecureDevModeIsPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	game := NewVar(saveGame{Level: 5})

	m := NewManager(Options{Mode: ModeDev})
	require.NoError(t, m.Register(RecordDescriptor{
		Name: "Save", Strategy: StrategySecure, Path: path, Accessor: game,
	}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got saveGame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 5, got.Level)
}

func TestDynamicProductionSharedContainer(t *testing.T) {
	tmp := t.TempDir()
	SetTestDirs(filepath.Join(tmp, "config"), filepath.Join(tmp, "data"))
	defer ResetDirs()

	opts := Options{
		Mode:          ModeProduction,
		App:           AppInfo{Vendor: "acme", Name: "demo"},
		ContainerFile: "settings.json",
	}

	a := NewVar(gameSettings{Volume: 0.5})
	b := NewVar(saveGame{Level: 1})
	m := NewManager(opts)
	require.NoError(t, m.Register(RecordDescriptor{Name: "A", Strategy: StrategyDynamic, Accessor: a}))
	require.NoError(t, m.Register(RecordDescriptor{Name: "B", Strategy: StrategyDynamic, Accessor: b}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	path := filepath.Join(tmp, "config", "acme", "demo", "settings.json")
	first := containerEntries(t, path)
	require.Contains(t, first, "A")
	require.Contains(t, first, "B")

	a.Update(func(s gameSettings) gameSettings {
		s.Volume = 1.0
		return s
	})
	require.NoError(t, m.Tick())

	second := containerEntries(t, path)
	assert.NotEqual(t, first["A"], second["A"])
	assert.Equal(t, first["B"], second["B"], "only the dirty record's payload may change")
}

func TestEmbedProduction(t *testing.T) {
	embedded := []byte(`{"volume": 0.25, "difficulty": 1}`)
	settings := NewVar(gameSettings{})

	m := NewManager(Options{Mode: ModeProduction, ContainerFile: filepath.Join(t.TempDir(), "persist.json")})
	require.NoError(t, m.Register(RecordDescriptor{
		Name: "Tuning", Strategy: StrategyEmbed, Embedded: embedded, Accessor: settings,
	}))
	require.NoError(t, m.Initialize())
	assert.Equal(t, 0.25, settings.Get().Volume)

	// Writes are no-ops that report success; the snapshot still advances
	// so the record is not re-flagged dirty every tick.
	settings.Set(gameSettings{Volume: 0.75})
	require.NoError(t, m.Tick())
	state, err := m.BackendState("Tuning")
	require.NoError(t, err)
	var got gameSettings
	require.NoError(t, json.Unmarshal(state, &got))
	assert.Equal(t, 0.75, got.Volume)
}

func TestEmbedDevModeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.json")
	settings := NewVar(gameSettings{Volume: 0.3})

	m := NewManager(Options{Mode: ModeDev})
	require.NoError(t, m.Register(RecordDescriptor{
		Name: "Tuning", Strategy: StrategyEmbed, Path: path, Accessor: settings,
	}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got gameSettings
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0.3, got.Volume)
}

func TestDisableAutoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	settings := NewVar(gameSettings{Volume: 0.5})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{
		Name: "Settings", DisableAutoSave: true, Accessor: settings,
	}))
	require.NoError(t, m.Initialize())

	require.NoError(t, m.Tick())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "auto-save disabled records must not be written by Tick")

	require.NoError(t, m.SaveNow("Settings"))
	entries := containerEntries(t, path)
	assert.Contains(t, entries, "Settings")
}

func TestSaveNowForcesCleanWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	settings := NewVar(gameSettings{Volume: 0.5})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Accessor: settings}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	require.NoError(t, os.Remove(path))
	require.NoError(t, m.SaveNow("Settings"))
	_, err := os.Stat(path)
	assert.NoError(t, err, "SaveNow writes regardless of dirty state")

	assert.ErrorIs(t, m.SaveNow("Nope"), ErrNotRegistered)
}

func TestSaveAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.json")
	a := NewVar(gameSettings{Volume: 0.5})
	b := NewVar(saveGame{Level: 2})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "A", Accessor: a}))
	require.NoError(t, m.Register(RecordDescriptor{Name: "B", DisableAutoSave: true, Accessor: b}))
	require.NoError(t, m.Initialize())

	require.NoError(t, m.SaveAll())
	entries := containerEntries(t, path)
	assert.Contains(t, entries, "A")
	assert.Contains(t, entries, "B")
}

func TestYAMLContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.yaml")
	settings := NewVar(gameSettings{Volume: 0.5})
	game := NewVar(saveGame{Level: 1})

	m := NewManager(Options{ContainerFile: path})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Settings", Format: FormatYAML, Accessor: settings}))
	require.NoError(t, m.Register(RecordDescriptor{Name: "Game", Format: FormatYAML, Accessor: game}))
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Tick())

	// Reload into fresh records.
	settings2 := NewVar(gameSettings{})
	game2 := NewVar(saveGame{})
	m2 := NewManager(Options{ContainerFile: path})
	require.NoError(t, m2.Register(RecordDescriptor{Name: "Settings", Format: FormatYAML, Accessor: settings2}))
	require.NoError(t, m2.Register(RecordDescriptor{Name: "Game", Format: FormatYAML, Accessor: game2}))
	require.NoError(t, m2.Initialize())

	assert.Equal(t, 0.5, settings2.Get().Volume)
	assert.Equal(t, 1, game2.Get().Level)
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager(Options{ContainerFile: filepath.Join(t.TempDir(), "persist.json")})
	v := NewVar(saveGame{})

	require.NoError(t, m.Register(RecordDescriptor{Name: "Game", Accessor: v}))

	t.Run("duplicate name", func(t *testing.T) {
		err := m.Register(RecordDescriptor{Name: "Game", Accessor: v})
		assert.ErrorContains(t, err, "already registered")
	})

	t.Run("empty name", func(t *testing.T) {
		err := m.Register(RecordDescriptor{Accessor: v})
		assert.ErrorContains(t, err, "cannot be empty")
	})

	t.Run("reserved name", func(t *testing.T) {
		err := m.Register(RecordDescriptor{Name: metaLastSaved, Accessor: v})
		assert.ErrorContains(t, err, "reserved")
	})

	t.Run("missing accessor", func(t *testing.T) {
		err := m.Register(RecordDescriptor{Name: "NoAccessor"})
		assert.ErrorContains(t, err, "no accessor")
	})

	t.Run("after initialize", func(t *testing.T) {
		require.NoError(t, m.Initialize())
		err := m.Register(RecordDescriptor{Name: "Late", Accessor: v})
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.ErrorIs(t, m.Initialize(), ErrAlreadyInitialized)
	})
}

func TestOperationsRequireInitialize(t *testing.T) {
	m := NewManager(Options{})
	assert.ErrorIs(t, m.Tick(), ErrNotInitialized)
	assert.ErrorIs(t, m.SaveNow("x"), ErrNotInitialized)
	assert.ErrorIs(t, m.SaveAll(), ErrNotInitialized)
}

func TestBackendStateUnknownRecord(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.BackendState("ghost")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestNames(t *testing.T) {
	m := NewManager(Options{})
	require.NoError(t, m.Register(RecordDescriptor{Name: "B", Accessor: NewVar(0)}))
	require.NoError(t, m.Register(RecordDescriptor{Name: "A", Accessor: NewVar(0)}))
	assert.Equal(t, []string{"B", "A"}, m.Names())
}

func TestWriteFailureIsolation(t *testing.T) {
	// One record's backend directory gets blocked by a regular file
	// after Initialize; the healthy backend must still sync.
	tmp := t.TempDir()
	blocked := filepath.Join(tmp, "blocked")

	good := NewVar(saveGame{Level: 1})
	bad := NewVar(saveGame{Level: 2})

	m := NewManager(Options{ContainerFile: filepath.Join(tmp, "persist.json")})
	require.NoError(t, m.Register(RecordDescriptor{Name: "Good", Accessor: good}))
	require.NoError(t, m.Register(RecordDescriptor{
		Name: "Bad", Strategy: StrategyEmbed, Path: filepath.Join(blocked, "bad.json"), Accessor: bad,
	}))
	require.NoError(t, m.Initialize())

	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0644))

	err := m.Tick()
	require.Error(t, err)
	assert.ErrorContains(t, err, "Bad")

	entries := containerEntries(t, filepath.Join(tmp, "persist.json"))
	assert.Contains(t, entries, "Good", "an independent backend failure must not block other writes")
}

func TestInitializeConfigurationErrors(t *testing.T) {
	tmp := t.TempDir()

	t.Run("dynamic production without app info", func(t *testing.T) {
		m := NewManager(Options{Mode: ModeProduction, ContainerFile: filepath.Join(tmp, "p.json")})
		require.NoError(t, m.Register(RecordDescriptor{Name: "A", Strategy: StrategyDynamic, Accessor: NewVar(0)}))
		assert.ErrorIs(t, m.Initialize(), ErrMissingAppInfo)
	})

	t.Run("secure production without secret", func(t *testing.T) {
		m := NewManager(Options{
			Mode: ModeProduction,
			App:  AppInfo{Vendor: "acme", Name: "demo"},
		})
		require.NoError(t, m.Register(RecordDescriptor{Name: "A", Strategy: StrategySecure, Accessor: NewVar(0)}))
		assert.ErrorIs(t, m.Initialize(), ErrMissingSecret)
	})

	t.Run("embed production without payload", func(t *testing.T) {
		m := NewManager(Options{Mode: ModeProduction})
		require.NoError(t, m.Register(RecordDescriptor{Name: "A", Strategy: StrategyEmbed, Accessor: NewVar(0)}))
		assert.ErrorIs(t, m.Initialize(), ErrMissingEmbed)
	})

	t.Run("format mismatch with container", func(t *testing.T) {
		m := NewManager(Options{ContainerFile: filepath.Join(tmp, "p.json")})
		require.NoError(t, m.Register(RecordDescriptor{Name: "A", Format: FormatYAML, Accessor: NewVar(0)}))
		assert.ErrorContains(t, m.Initialize(), "does not match container")
	})

	t.Run("dedicated path collision", func(t *testing.T) {
		p := filepath.Join(tmp, "same.json")
		m := NewManager(Options{})
		require.NoError(t, m.Register(RecordDescriptor{Name: "A", Strategy: StrategySecure, Path: p, Accessor: NewVar(0)}))
		require.NoError(t, m.Register(RecordDescriptor{Name: "B", Strategy: StrategySecure, Path: p, Accessor: NewVar(0)}))
		assert.ErrorContains(t, m.Initialize(), "same location")
	})
}

func TestLoadErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &LoadError{Name: "X", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "X")
}
