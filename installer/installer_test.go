package installer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyInstallPassesWhenPackageRecorded(t *testing.T) {
	dir := t.TempDir()
	lock := `{"packages":{"node_modules/left-pad":{"name":"left-pad","version":"1.3.0","resolved":"https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz","integrity":"sha512-XXX"}}}`
	if err := os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(lock), 0o644); err != nil {
		t.Fatalf("failed to write lockfile: %v", err)
	}

	i := New(dir, "npm")
	if err := i.verifyInstall("npm", "left-pad", "1.3.0", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerifyInstallFailsWhenVersionMismatched(t *testing.T) {
	dir := t.TempDir()
	lock := `{"packages":{"node_modules/left-pad":{"name":"left-pad","version":"1.2.0","resolved":"https://registry.npmjs.org/left-pad/-/left-pad-1.2.0.tgz"}}}`
	if err := os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(lock), 0o644); err != nil {
		t.Fatalf("failed to write lockfile: %v", err)
	}

	i := New(dir, "npm")
	if err := i.verifyInstall("npm", "left-pad", "1.3.0", dir); err == nil {
		t.Fatalf("expected an error for a version npm did not actually install")
	}
}

func TestVerifyInstallSkipsGitHubRegistry(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(`{"packages":{}}`), 0o644); err != nil {
		t.Fatalf("failed to write lockfile: %v", err)
	}

	i := New(dir, "npm")
	if err := i.verifyInstall("github", "sveltejs/svelte", "v4.2.0", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	installDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(installDir, "package-lock.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to write lockfile: %v", err)
	}
	nested := filepath.Join(installDir, "node_modules", "left-pad")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, "index.js"), []byte("module.exports = {};"), 0o644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}

	i := New(t.TempDir(), "npm")
	i.Archive = newMemArchiver()

	i.saveToArchive(t.Context(), "left-pad", "1.3.0", installDir)

	restoreDir := t.TempDir()
	if !i.restoreFromArchive(t.Context(), "left-pad", "1.3.0", restoreDir) {
		t.Fatalf("expected a successful restore")
	}
	got, err := os.ReadFile(filepath.Join(restoreDir, "node_modules", "left-pad", "index.js"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(got) != "module.exports = {};" {
		t.Fatalf("got %q", got)
	}
}

func TestDependencySpecNPM(t *testing.T) {
	got := dependencySpec("npm", "left-pad", "1.3.0")
	if got != "1.3.0" {
		t.Fatalf("got %q, want the exact version verbatim", got)
	}
}

func TestDependencySpecGitHub(t *testing.T) {
	got := dependencySpec("github", "sveltejs/svelte", "v4.2.0")
	want := "github:sveltejs/svelte#v4.2.0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitizeDirNameScopedPackage(t *testing.T) {
	got := sanitizeDirName("@types/node")
	if got != "@types+node" {
		t.Fatalf("got %q, want slash replaced so it never collides with a path separator", got)
	}
}

func TestPackageDir(t *testing.T) {
	i := New("packages", "npm")
	got := i.packageDir("@types/node", "20.11.0")
	want := "packages/@types+node@20.11.0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPackageRoot(t *testing.T) {
	i := New("packages", "npm")
	got := i.PackageRoot("left-pad", "1.3.0")
	want := "packages/left-pad@1.3.0/node_modules/left-pad"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
