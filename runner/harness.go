package runner

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

// Shim file names
const (
	CoreShim    = "harness-core.js"
	SetupShim   = "setup.mjs"
	DenoShim    = "deno-entry.mjs"
	BridgeShim  = "build-bridge.mjs"
	pageTmpl    = "page.html.tmpl"
	pageFallMs  = 150
	shimDirMode = 0o755
)

//go:embed shims/*
var shimFS embed.FS

var (
	installMu sync.Mutex

	pageTemplate = template.Must(template.ParseFS(shimFS, "shims/"+pageTmpl))
)

// InstallShims writes the host shims under <workdir>/.tmp/compat-runner so
// bare imports made by a shim resolve against the workdir's node_modules.
// It returns the shim directory.
func InstallShims(workdir string) (string, error) {
	installMu.Lock()
	defer installMu.Unlock()

	dir := filepath.Join(workdir, filepath.FromSlash(ScratchDirName))
	if err := os.MkdirAll(dir, shimDirMode); err != nil {
		return "", fmt.Errorf("creating shim directory: %w", err)
	}

	entries, err := shimFS.ReadDir("shims")
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		contents, err := shimFS.ReadFile("shims/" + entry.Name())
		if err != nil {
			return "", err
		}
		target := filepath.Join(dir, entry.Name())
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, contents) {
			continue
		}
		if err := os.WriteFile(target, contents, 0o644); err != nil {
			return "", fmt.Errorf("writing shim %s: %w", entry.Name(), err)
		}
	}
	return dir, nil
}

// RenderHarnessPage renders the HTML document that hosts a bundled suite.
func RenderHarnessPage(page *PageContext) ([]byte, error) {
	core, err := shimFS.ReadFile("shims/" + CoreShim)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, struct {
		ID             string
		Core           string
		Done           string
		FallbackMillis int
		MainURL        string
		MainIsModule   bool
		ExpectURL      string
	}{
		ID:             page.ID,
		Core:           string(core),
		Done:           DoneSentinel,
		FallbackMillis: pageFallMs,
		MainURL:        page.MainURL,
		MainIsModule:   page.MainIsModule,
		ExpectURL:      page.ExpectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering harness page: %w", err)
	}
	return buf.Bytes(), nil
}
