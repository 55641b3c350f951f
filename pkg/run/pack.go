package run

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// defaultPackDir is where the pack lands inside the sandbox, outside the
// task workspace so the agent does not treat it as task material.
const defaultPackDir = "/opt/agentbox/pack"

// Pack is the static file bundle uploaded into the sandbox before each
// run: the bootstrap script plus reference docs the agent finds in its
// workspace.
type Pack struct {
	// Dir is the destination directory inside the sandbox.
	Dir string

	// Files are written under Dir, in order.
	Files []PackFile
}

// PackFile is one file of the bundle, with Path relative to Pack.Dir.
type PackFile struct {
	Path    string
	Content string
}

// BootstrapCommand is the shell command preparing the workspace after
// the pack is uploaded.
func (p *Pack) BootstrapCommand() string {
	return "sh " + path.Join(p.Dir, "bootstrap.sh")
}

// DefaultPack returns the bundle uploaded when no custom pack is
// configured. Its bootstrap script creates the task workspace and the
// artifacts directory the collector scans after each run.
func DefaultPack(workDir, artifactsDir string) *Pack {
	bootstrap := fmt.Sprintf(`#!/bin/sh
set -e
mkdir -p %[1]s %[2]s
cp %[3]s/AGENTS.md %[1]s/AGENTS.md 2>/dev/null || true
`, workDir, path.Join(workDir, artifactsDir), defaultPackDir)

	agents := fmt.Sprintf(`# Workspace conventions

Your working directory is %[1]s. The task is given to you as a prompt.

Write every file you want scored into %[2]s. Files anywhere else are
discarded when the run ends. Exit 0 when you consider the task solved.
`, workDir, path.Join(workDir, artifactsDir))

	return &Pack{
		Dir: defaultPackDir,
		Files: []PackFile{
			{Path: "bootstrap.sh", Content: bootstrap},
			{Path: "AGENTS.md", Content: agents},
		},
	}
}

// LoadPack builds the upload bundle from local files: the default pack
// overlaid with every regular file under dir (paths kept relative to
// dir) and, when bootstrapScript names a file, its content as
// bootstrap.sh. Either argument may be empty; whatever is present
// replaces the corresponding default entry.
func LoadPack(workDir, artifactsDir, dir, bootstrapScript string) (*Pack, error) {
	pack := DefaultPack(workDir, artifactsDir)

	if dir != "" {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			pack.put(filepath.ToSlash(rel), string(content))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reading pack dir: %w", err)
		}
	}

	if bootstrapScript != "" {
		content, err := os.ReadFile(bootstrapScript)
		if err != nil {
			return nil, fmt.Errorf("reading bootstrap script: %w", err)
		}
		pack.put("bootstrap.sh", string(content))
	}

	return pack, nil
}

// put replaces the entry at path, or appends it.
func (p *Pack) put(path, content string) {
	for i := range p.Files {
		if p.Files[i].Path == path {
			p.Files[i].Content = content
			return
		}
	}
	p.Files = append(p.Files, PackFile{Path: path, Content: content})
}
