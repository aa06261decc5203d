// Package project locates the managed application on disk.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loykin/firestarter/internal/env"
)

// Defaults for a node-on-fire project layout.
const (
	DefaultEnvFile       = ".env"
	DefaultMigrationsDir = ".fire/migrations"
	DefaultMarker        = "fire"
)

// ErrNotRecognized means package.json does not depend on the marker.
var ErrNotRecognized = errors.New("not a recognized project")

type Options struct {
	Root          string
	EnvFile       string // relative to Root unless absolute
	MigrationsDir string // relative to Root, slash separated
	Marker        string // dependency that identifies the project
}

// Project is a directory on disk with a package.json, an optional .env
// file and a migrations directory.
type Project struct {
	root          string
	envFile       string
	migrationsDir string
	marker        string
	fsys          fs.FS
}

func New(opts Options) (*Project, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	p := &Project{
		root:          abs,
		envFile:       opts.EnvFile,
		migrationsDir: filepath.ToSlash(opts.MigrationsDir),
		marker:        opts.Marker,
		fsys:          os.DirFS(abs),
	}
	if p.envFile == "" {
		p.envFile = DefaultEnvFile
	}
	if p.migrationsDir == "" {
		p.migrationsDir = DefaultMigrationsDir
	}
	if p.marker == "" {
		p.marker = DefaultMarker
	}
	return p, nil
}

func (p *Project) Root() string { return p.root }

// EnvPath is the absolute path of the .env file.
func (p *Project) EnvPath() string {
	if filepath.IsAbs(p.envFile) {
		return p.envFile
	}
	return filepath.Join(p.root, p.envFile)
}

// MigrationsPath is the absolute path of the migrations directory.
func (p *Project) MigrationsPath() string {
	return filepath.Join(p.root, filepath.FromSlash(p.migrationsDir))
}

// Env reads the .env file fresh on every call.
func (p *Project) Env() (env.Var, error) {
	vars, err := env.LoadFile(p.EnvPath())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.envFile, err)
	}
	return vars, nil
}

// Migrations returns the filesystem and directory to scan.
func (p *Project) Migrations() (fs.FS, string) { return p.fsys, p.migrationsDir }

type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Recognize checks that package.json depends on the marker.
func (p *Project) Recognize() error {
	b, err := fs.ReadFile(p.fsys, "package.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRecognized, err)
	}
	var pkg packageJSON
	if err := json.Unmarshal(b, &pkg); err != nil {
		return fmt.Errorf("%w: package.json: %v", ErrNotRecognized, err)
	}
	if _, ok := pkg.Dependencies[p.marker]; !ok {
		return fmt.Errorf("%w: package.json has no %q dependency", ErrNotRecognized, p.marker)
	}
	return nil
}
