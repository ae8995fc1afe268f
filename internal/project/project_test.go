package project_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"monitorgen/internal/inject"
	"monitorgen/internal/project"
)

func TestBundledHasMarkersOnce(t *testing.T) {
	r := require.New(t)

	dst := t.TempDir()
	r.NoError(project.Bundled().Materialize(dst))

	src, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(project.SourceFile)))
	r.NoError(err)

	m := inject.DefaultMarkers()
	for _, marker := range []string{m.Methods, m.PoliciesPath, m.PortPath} {
		r.Equal(1, strings.Count(string(src), marker), marker)
	}

	info, err := os.Stat(filepath.Join(dst, "gradlew"))
	r.NoError(err)
	r.NotZero(info.Mode().Perm()&0o100, "gradlew must be executable")

	_, err = os.Stat(filepath.Join(dst, filepath.FromSlash(project.ArtifactFile)))
	r.True(os.IsNotExist(err))
}

func TestFromArchive(t *testing.T) {
	r := require.New(t)

	src := project.FromArchive("fixture", []byte(`-- a/b.txt --
hello
-- c.txt --
world
`))
	dst := t.TempDir()
	r.NoError(src.Materialize(dst))

	data, err := os.ReadFile(filepath.Join(dst, "a", "b.txt"))
	r.NoError(err)
	r.Equal("hello\n", string(data))
}

func TestFromArchiveRejectsEscapes(t *testing.T) {
	src := project.FromArchive("evil", []byte("-- ../escape.txt --\nx\n"))
	require.Error(t, src.Materialize(t.TempDir()))
}

func TestFromArchiveEmpty(t *testing.T) {
	err := project.FromArchive("empty", []byte("just a comment\n")).Materialize(t.TempDir())
	require.ErrorIs(t, err, project.ErrMissing)
}

func TestDir(t *testing.T) {
	r := require.New(t)

	src := t.TempDir()
	r.NoError(os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	r.NoError(os.WriteFile(filepath.Join(src, "sub", "x.java"), []byte("class X {}"), 0o644))
	r.NoError(os.WriteFile(filepath.Join(src, "gradlew"), []byte("#!/bin/sh\n"), 0o755))

	dst := t.TempDir()
	r.NoError(project.Dir(src).Materialize(dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "x.java"))
	r.NoError(err)
	r.Equal("class X {}", string(data))

	info, err := os.Stat(filepath.Join(dst, "gradlew"))
	r.NoError(err)
	r.Equal(os.FileMode(0o755), info.Mode().Perm())
}

func TestDirMissing(t *testing.T) {
	err := project.Dir(filepath.Join(t.TempDir(), "nope")).Materialize(t.TempDir())
	require.ErrorIs(t, err, project.ErrMissing)
}
