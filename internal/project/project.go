// Package project provides the monitor APK template project that is
// copied into every build workspace.
//
// Layout of a template project:
//
//	build.gradle, settings.gradle, gradlew[.bat]
//	src/main/java/org/droidmate/monitor/Monitor.java   # carries the markers
//	build/outputs/apk/release/monitorApk-release-unsigned.apk  # after the build
package project

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/tools/txtar"

	"monitorgen/internal/fileutil"
)

// SourceFile is the template source holding the injection markers,
// relative to the project root.
const SourceFile = "src/main/java/org/droidmate/monitor/Monitor.java"

// ArtifactFile is the APK produced by a successful build, relative to the
// project root.
const ArtifactFile = "build/outputs/apk/release/monitorApk-release-unsigned.apk"

// ErrMissing is returned when a template project cannot be found.
var ErrMissing = errors.New("template project not found")

//go:embed monitor_project.txtar
var bundled []byte

// Source materializes a template project into a directory.
type Source interface {
	// Materialize writes the project into dst, which must exist.
	Materialize(dst string) error
	// String describes the source for logs.
	String() string
}

// Bundled returns the template project embedded in the binary.
func Bundled() Source {
	return &archive{name: "bundled", ar: txtar.Parse(bundled)}
}

// FromArchive returns a Source backed by a txtar archive.
func FromArchive(name string, data []byte) Source {
	return &archive{name: name, ar: txtar.Parse(data)}
}

type archive struct {
	name string
	ar   *txtar.Archive
}

func (a *archive) String() string { return a.name }

func (a *archive) Materialize(dst string) error {
	if len(a.ar.Files) == 0 {
		return fmt.Errorf("%w: archive %s is empty", ErrMissing, a.name)
	}
	for _, f := range a.ar.Files {
		name := path.Clean(f.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("archive %s: invalid file name %q", a.name, f.Name)
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if path.Base(name) == "gradlew" {
			mode = 0o755
		}
		if err := os.WriteFile(target, f.Data, mode); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns a Source that copies an on-disk project.
func Dir(dir string) Source {
	return directory(dir)
}

type directory string

func (d directory) String() string { return string(d) }

func (d directory) Materialize(dst string) error {
	info, err := os.Stat(string(d))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissing, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrMissing, d)
	}
	return fileutil.CopyDir(string(d), dst)
}
