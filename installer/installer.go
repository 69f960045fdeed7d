// Package installer materializes package(name, version) on disk by
// shelling out to npm, the way other_examples' npm_exec action writes a
// synthesized package.json plus an isolated cache directory before
// invoking the package manager. A singleflight.Group coalesces concurrent
// installs of the same (name, version) into one subprocess.
package installer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/a-h/cdndepot/internal/cdnerr"
	"github.com/a-h/cdndepot/npm/pkglock"
	"github.com/a-h/cdndepot/npm/sri"
	"github.com/a-h/cdndepot/storage"
)

// Installer ensures packages/<name>@<version>/node_modules/<name>/ exists,
// coalescing concurrent requests for the same (name, version).
type Installer struct {
	PackagesDir string
	NPMPath     string

	// Archive, when set, durably persists installed trees so a fresh
	// instance can restore one instead of re-running npm install.
	Archive storage.Archiver
	Log     *slog.Logger

	group singleflight.Group
}

// New creates an Installer rooted at packagesDir ("packages/" in the spec).
// npmPath defaults to "npm" on the host PATH when empty.
func New(packagesDir, npmPath string) *Installer {
	if npmPath == "" {
		npmPath = "npm"
	}
	return &Installer{PackagesDir: packagesDir, NPMPath: npmPath}
}

// packageDir returns packages/<name>@<version>, replacing each "/" in the
// name with "+", so a scoped name's "/" never collides with a path
// separator meant for another component.
func (i *Installer) packageDir(name, version string) string {
	return filepath.Join(i.PackagesDir, sanitizeDirName(name)+"@"+version)
}

func sanitizeDirName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '/' {
			out = append(out, '+')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// dependencySpec builds the dependency entry EnsureInstalled writes into
// the synthesized package.json: an exact semver for npm, and npm's
// supported "github:<owner>/<repo>#<ref>" git-dependency syntax for
// github — letting npm's own git-clone support stand in for a second,
// hand-rolled install path.
func dependencySpec(registry, name, version string) string {
	if registry == "github" {
		return fmt.Sprintf("github:%s#%s", name, version)
	}
	return version
}

// EnsureInstalled guarantees packages/<name>@<version>/node_modules/<name>/
// exists, returning the install directory. Concurrent calls for the same
// (name, version) share one in-flight npm invocation.
func (i *Installer) EnsureInstalled(ctx context.Context, registry, name, version string) (string, error) {
	key := registry + "/" + name + "@" + version
	installDir := i.packageDir(name, version)

	result, err, _ := i.group.Do(key, func() (any, error) {
		return installDir, i.ensureInstalledOnce(ctx, registry, name, version, installDir)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (i *Installer) ensureInstalledOnce(ctx context.Context, registry, name, version, installDir string) error {
	lockfilePath := filepath.Join(installDir, "package-lock.json")
	if _, err := os.Stat(lockfilePath); err == nil {
		return nil // Already installed: lockfile presence is the installed predicate.
	}

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("%w: create install dir %s: %v", cdnerr.InstallFailed, installDir, err)
	}

	if i.restoreFromArchive(ctx, name, version, installDir) {
		return nil
	}

	manifest := map[string]any{
		"name":    "cdndepot-install",
		"version": "0.0.0",
		"dependencies": map[string]string{
			name: dependencySpec(registry, name, version),
		},
		"private": true,
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal synthesized package.json: %v", cdnerr.InstallFailed, err)
	}
	if err := os.WriteFile(filepath.Join(installDir, "package.json"), manifestBytes, 0o644); err != nil {
		return fmt.Errorf("%w: write package.json: %v", cdnerr.InstallFailed, err)
	}

	cacheDir := filepath.Join(installDir, ".npm-cache")
	env := append(os.Environ(), "npm_config_cache="+cacheDir)

	args := []string{
		"install",
		"--ignore-scripts",
		"--omit=dev",
		"--no-audit",
		"--no-fund",
		"--prefer-offline",
		"--prefix=" + installDir,
	}
	cmd := exec.CommandContext(ctx, i.NPMPath, args...)
	cmd.Dir = installDir
	cmd.Env = env

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: npm install %s@%s: %v: %s", cdnerr.InstallFailed, name, version, err, output)
	}

	if err := i.verifyInstall(registry, name, version, installDir); err != nil {
		return err
	}
	i.saveToArchive(ctx, name, version, installDir)
	return nil
}

// verifyInstall sanity-checks the lockfile npm wrote: the requested package
// must appear at the requested version, and any recorded integrity hash
// must be a well-formed SRI string. It catches a synthesized package.json
// that resolved to the wrong version without re-downloading anything npm
// already fetched.
func (i *Installer) verifyInstall(registryName, name, version, installDir string) error {
	f, err := os.Open(filepath.Join(installDir, "package-lock.json"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var lock pkglock.NPMLock
	if err := json.NewDecoder(f).Decode(&lock); err != nil {
		return fmt.Errorf("%w: parse package-lock.json: %v", cdnerr.InstallFailed, err)
	}

	if registryName != "npm" {
		return nil // github deps resolve to a commit the lockfile won't record as name@version.
	}

	for path, pkg := range lock.Packages {
		if path == "" || pkg.Name != name || pkg.Version != version {
			continue
		}
		if pkg.Integrity == "" {
			return nil
		}
		if _, err := sri.Parse(pkg.Integrity); err != nil {
			return fmt.Errorf("%w: malformed integrity %q for %s@%s: %v", cdnerr.InstallFailed, pkg.Integrity, name, version, err)
		}
		return nil
	}
	return fmt.Errorf("%w: npm install did not record %s@%s in package-lock.json", cdnerr.InstallFailed, name, version)
}

// PackageRoot returns the filesystem directory the installed package's
// own files live under, for the Subpath Resolver's filesystem probing.
func (i *Installer) PackageRoot(name, version string) string {
	return filepath.Join(i.packageDir(name, version), "node_modules", name)
}
