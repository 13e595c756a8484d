package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/internal/config"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		setupFunc func(dir string)
		wantErr   string
	}{
		{
			name: "fresh initialization",
			opts: Options{RunName: "stops", Seed: 7},
		},
		{
			name: "default run name",
			opts: Options{},
		},
		{
			name: "force overwrites existing files",
			opts: Options{RunName: "stops", Force: true},
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644)
				os.WriteFile(filepath.Join(dir, PolicyFile), []byte("old"), 0644)
			},
		},
		{
			name: "existing files without force",
			opts: Options{RunName: "stops"},
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, CatalogFile), []byte("analyses: []"), 0644)
			},
			wantErr: "run already initialized",
		},
		{
			name:    "invalid run name",
			opts:    Options{RunName: "Not Valid"},
			wantErr: "invalid run name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.setupFunc != nil {
				tt.setupFunc(dir)
			}

			err := Initialize(dir, tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			for _, name := range []string{ConfigFile, CatalogFile, PolicyFile} {
				info, err := os.Stat(filepath.Join(dir, name))
				require.NoError(t, err, name)
				assert.Equal(t, os.FileMode(0644), info.Mode().Perm(), name)
			}

			cfg, err := config.Load(filepath.Join(dir, ConfigFile))
			require.NoError(t, err)
			wantName := tt.opts.RunName
			if wantName == "" {
				wantName = "protomodels"
			}
			assert.Equal(t, wantName, cfg.RunName)
			assert.Equal(t, tt.opts.Seed, cfg.Seed)
			assert.Equal(t, filepath.Join(dir, CatalogFile), cfg.CatalogPath())
		})
	}
}

func TestHandleForce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("content"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0644))

	require.NoError(t, handleForce(dir))

	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err, "unrelated files are kept")
}

func TestGetTemplateFiles(t *testing.T) {
	files, err := getTemplateFiles(Options{RunName: "gluinos", Seed: 3})
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, ConfigFile, files[0].Path)
	assert.Contains(t, string(files[0].Content), `run_name: "gluinos"`)
	assert.Contains(t, string(files[0].Content), "seed: 3")
	assert.Equal(t, CatalogFile, files[1].Path)
	assert.Equal(t, PolicyFile, files[2].Path)
}
