// Package scaffold creates a new protomodels run directory.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/protomodels/internal/catalog"
	"github.com/dyluth/protomodels/internal/config"
	"github.com/dyluth/protomodels/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	ConfigFile  = "pmodel.yml"
	CatalogFile = "catalog.yml"
	PolicyFile  = "policy.yml"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Options parameterize the generated configuration.
type Options struct {
	RunName string
	Seed    int64
	Force   bool // overwrite existing files
}

// Initialize writes pmodel.yml, catalog.yml and policy.yml into dir and
// checks that the result loads.
func Initialize(dir string, opts Options) error {
	if opts.RunName == "" {
		opts.RunName = "protomodels"
	}
	if err := config.ValidateRunName(opts.RunName); err != nil {
		return fmt.Errorf("invalid run name: %w", err)
	}

	if opts.Force {
		if err := handleForce(dir); err != nil {
			return err
		}
	} else if err := CheckExisting(dir); err != nil {
		return err
	}

	files, err := getTemplateFiles(opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return validateCreatedFiles(dir)
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	for _, name := range []string{ConfigFile, CatalogFile, PolicyFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		printer.Warning("Removing existing %s...\n", name)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// getTemplateFiles renders all template files
func getTemplateFiles(opts Options) ([]FileInfo, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	var files []FileInfo
	for _, name := range []string{ConfigFile, CatalogFile, PolicyFile} {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, name+".tmpl", opts); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", name, err)
		}
		files = append(files, FileInfo{Path: name, Content: buf.Bytes(), Permissions: 0644})
	}
	return files, nil
}

// validateCreatedFiles loads the generated files the way a run would
func validateCreatedFiles(dir string) error {
	cfg, err := config.Load(filepath.Join(dir, ConfigFile))
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", CatalogFile, err)
	}
	policy, err := catalog.LoadPolicy(cfg.PolicyPath())
	if err != nil {
		return fmt.Errorf("created %s is invalid: %w", PolicyFile, err)
	}
	if err := policy.Check(cat); err != nil {
		return fmt.Errorf("created %s does not match %s: %w", PolicyFile, CatalogFile, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(dir string) {
	printer.Success("Initialized protomodels run in %s\n", dir)
	printer.Info("\nCreated:\n")
	for _, name := range []string{ConfigFile, CatalogFile, PolicyFile} {
		printer.Info("  ✓ %s\n", name)
	}
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Replace the example analyses in %s and %s\n", CatalogFile, PolicyFile)
	printer.Info("  2. Run 'pmodel walk --workers 0' for a quick local walk\n")
	printer.Info("  3. Run 'pmodel submit --workers 0-15' to start a full run\n")
}
