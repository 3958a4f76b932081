// Package sandbox creates and tracks conductor sandboxes: a directory holding
// the conductor config and its databases, registered in a .hc file.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"happinstall/internal/conductor"
)

const (
	// RegistryFile lists registered sandbox paths, one per line.
	RegistryFile = ".hc"
	// DefaultDir is the sandbox directory name used by the installer.
	DefaultDir = ".sandbox"
	// DefaultAdminPort is the admin port forced onto generated sandboxes.
	DefaultAdminPort = 4444
	keystoreDir      = "keystore"
)

// ErrExists is returned when the sandbox directory is already present.
var ErrExists = errors.New("sandbox directory already exists")

// DefaultConfig is the conductor config used when no template is given.
func DefaultConfig(adminPort int) *conductor.Config {
	cfg := &conductor.Config{}
	cfg.SetAdminPort(adminPort)
	return cfg
}

// Generate creates root/dir, points the config at it and writes the
// conductor config file inside. An empty dir picks a random name. The
// template is not modified.
func Generate(template *conductor.Config, root, dir string) (string, error) {
	if template == nil {
		template = DefaultConfig(0)
	}
	if root == "" {
		root = "."
	}
	if dir == "" {
		dir = uuid.NewString()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox root: %w", err)
	}

	path := filepath.Join(root, dir)
	if err := os.Mkdir(path, 0o700); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("create sandbox: %w", err)
	}

	cfg := template.Clone()
	cfg.EnvironmentPath = path
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = filepath.Join(path, keystoreDir)
	}
	if err := conductor.WriteConfig(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// Save appends paths to the registry in hcDir.
func Save(hcDir string, paths ...string) error {
	var buf bytes.Buffer
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve sandbox path: %w", err)
		}
		buf.WriteString(abs)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(filepath.Join(hcDir, RegistryFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open sandbox registry: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write sandbox registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write sandbox registry: %w", err)
	}
	return nil
}

// Load returns the registered sandbox paths in hcDir. A missing registry
// is empty.
func Load(hcDir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(hcDir, RegistryFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sandbox registry: %w", err)
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sandbox registry: %w", err)
	}
	return paths, nil
}

// ForceAdminPort rewrites the sandbox config so its first websocket admin
// interface listens on port.
func ForceAdminPort(path string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("force admin port: invalid port %d", port)
	}
	cfg, err := conductor.ReadConfig(path)
	if err != nil {
		return err
	}
	cfg.SetAdminPort(port)
	return conductor.WriteConfig(path, cfg)
}

// Clean removes every registered sandbox and the registry itself.
func Clean(hcDir string) error {
	paths, err := Load(hcDir)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove sandbox %s: %w", p, err))
			continue
		}
		slog.Debug("Removed sandbox.", "path", p)
	}
	if err := os.Remove(filepath.Join(hcDir, RegistryFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove sandbox registry: %w", err))
	}
	return errors.Join(errs...)
}

// Provisioner generates, registers and configures one sandbox.
type Provisioner struct {
	// Config is the template conductor config. Nil uses DefaultConfig.
	Config *conductor.Config
	// Root holds the sandbox directory and the registry.
	Root string
	// Dir is the sandbox directory name. Empty picks a random name.
	Dir string
	// AdminPort is forced onto the sandbox. Zero keeps the template's port.
	AdminPort int
}

// Provision runs generate, save and force-port in that order and returns
// the sandbox path.
func (p Provisioner) Provision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root := p.Root
	if root == "" {
		root = "."
	}

	log := slog.With("component", "sandbox")
	log.Debug("Generating sandbox.", "root", root, "dir", p.Dir)
	path, err := Generate(p.Config, root, p.Dir)
	if err != nil {
		return "", err
	}

	log.Debug("Saving sandbox.", "registry", filepath.Join(root, RegistryFile))
	if err := Save(root, path); err != nil {
		return "", err
	}

	if p.AdminPort != 0 {
		log.Debug("Forcing admin port.", "port", p.AdminPort)
		if err := ForceAdminPort(path, p.AdminPort); err != nil {
			return "", err
		}
	}
	return path, nil
}
