package monitor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"monitorgen/internal/apis"
	"monitorgen/internal/env"
	"monitorgen/internal/inject"
	"monitorgen/internal/monitor"
	"monitorgen/internal/project"
	"monitorgen/internal/sysexec"
)

// fakeBuild records build invocations and optionally produces the artifact.
type fakeBuild struct {
	calls   [][]string
	timed   int
	source  string
	produce bool
	err     error
}

func (f *fakeBuild) Execute(ctx context.Context, description, name string, args ...string) (sysexec.Result, error) {
	f.timed++
	return f.ExecuteWithoutTimeout(ctx, description, name, args...)
}

func (f *fakeBuild) ExecuteWithoutTimeout(_ context.Context, _, name string, args ...string) (sysexec.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	dir := args[len(args)-1]
	src, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(project.SourceFile)))
	if err == nil {
		f.source = string(src)
	}
	if f.err != nil {
		return sysexec.Result{}, f.err
	}
	if f.produce {
		apk := filepath.Join(dir, filepath.FromSlash(project.ArtifactFile))
		if err := os.MkdirAll(filepath.Dir(apk), 0o755); err != nil {
			return sysexec.Result{}, err
		}
		if err := os.WriteFile(apk, []byte("apk bytes"), 0o644); err != nil {
			return sysexec.Result{}, err
		}
	}
	return sysexec.Result{}, nil
}

func requireEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "workspace left behind")
}

func TestInstrument(t *testing.T) {
	r := require.New(t)
	root, dst := t.TempDir(), filepath.Join(t.TempDir(), "out")
	fb := &fakeBuild{produce: true}
	c := env.Default()

	p := monitor.New("    public static void hooked() {}\n",
		monitor.WithExecutor(fb), monitor.WithWorkDir(root), monitor.WithConstants(c))
	r.Equal(monitor.Init, p.State())

	apk, err := p.Instrument(context.Background(), dst)
	r.NoError(err)
	r.Equal(filepath.Join(dst, "monitor.apk"), apk)
	data, err := os.ReadFile(apk)
	r.NoError(err)
	r.Equal("apk bytes", string(data))
	r.Equal(monitor.CleanedUp, p.State())
	requireEmpty(t, root)

	r.Len(fb.calls, 1)
	r.Zero(fb.timed, "the build must run without a timeout")
	ws := fb.calls[0][len(fb.calls[0])-1]
	r.Equal(filepath.Join(ws, "gradlew"), fb.calls[0][0])
	r.Equal([]string{"clean", "build", "-p", ws}, fb.calls[0][1:])

	m := inject.DefaultMarkers()
	for _, marker := range []string{m.Methods, m.PoliciesPath, m.PortPath} {
		r.NotContains(fb.source, marker)
	}
	r.Contains(fb.source, "public static void hooked() {}")
	r.Contains(fb.source, `"`+c.PoliciesPath()+`"`)
	r.Contains(fb.source, `"`+c.PortPath()+`"`)
}

func TestInstrumentEmptyMethods(t *testing.T) {
	root := t.TempDir()
	fb := &fakeBuild{produce: true}
	_, err := monitor.New("", monitor.WithExecutor(fb), monitor.WithWorkDir(root)).
		Instrument(context.Background(), t.TempDir())
	require.NoError(t, err)
	requireEmpty(t, root)
}

func TestInstrumentReplacesArtifact(t *testing.T) {
	r := require.New(t)
	dst := t.TempDir()
	r.NoError(os.WriteFile(filepath.Join(dst, "monitor.apk"), []byte("an older, longer artifact"), 0o644))

	apk, err := monitor.New("", monitor.WithExecutor(&fakeBuild{produce: true}), monitor.WithWorkDir(t.TempDir())).
		Instrument(context.Background(), dst)
	r.NoError(err)
	data, err := os.ReadFile(apk)
	r.NoError(err)
	r.Equal("apk bytes", string(data))
}

func TestInstrumentArtifactMissing(t *testing.T) {
	r := require.New(t)
	root := t.TempDir()
	p := monitor.New("", monitor.WithExecutor(&fakeBuild{}), monitor.WithWorkDir(root))

	_, err := p.Instrument(context.Background(), t.TempDir())
	r.ErrorIs(err, monitor.ErrArtifactNotFound)
	var ae *monitor.ArtifactNotFoundError
	r.True(errors.As(err, &ae))
	r.True(strings.HasSuffix(filepath.ToSlash(ae.Path), project.ArtifactFile))
	r.NoFileExists(ae.Path)
	r.Equal(monitor.CleanedUp, p.State())
	requireEmpty(t, root)
}

func TestInstrumentBuildFailure(t *testing.T) {
	r := require.New(t)
	root := t.TempDir()
	fb := &fakeBuild{err: &sysexec.CommandError{
		Description: "build monitor apk",
		Args:        []string{"gradlew"},
		ExitCode:    1,
		Output:      "FAILURE: Build failed with an exception.\n",
		Err:         errors.New("exit status 1"),
	}}

	_, err := monitor.New("", monitor.WithExecutor(fb), monitor.WithWorkDir(root)).
		Instrument(context.Background(), t.TempDir())
	r.ErrorIs(err, monitor.ErrBuild)
	r.ErrorIs(err, sysexec.ErrCommand)
	var be *monitor.BuildError
	r.True(errors.As(err, &be))
	r.Equal("FAILURE: Build failed with an exception.\n", be.Output)
	requireEmpty(t, root)
}

func TestInstrumentTemplateError(t *testing.T) {
	r := require.New(t)
	root := t.TempDir()
	fb := &fakeBuild{produce: true}
	tmpl := project.FromArchive("broken", []byte(`-- `+project.SourceFile+` --
class Monitor {
    String a = "#POLICIES_FILE_PATH";
    String b = "#POLICIES_FILE_PATH";
    String c = "#PORT_FILE_PATH";
    // GENERATED_CODE_INJECTION_POINT:METHOD_REDIR_TARGETS
}
`))

	_, err := monitor.New("", monitor.WithExecutor(fb), monitor.WithWorkDir(root), monitor.WithTemplate(tmpl)).
		Instrument(context.Background(), t.TempDir())
	r.ErrorIs(err, inject.ErrTemplate)
	var te *inject.TemplateError
	r.True(errors.As(err, &te))
	r.Equal("#POLICIES_FILE_PATH", te.Marker)
	r.Equal(2, te.Count)
	r.Empty(fb.calls, "build must not run after a template error")
	requireEmpty(t, root)
}

func TestInstrumentMissingTemplate(t *testing.T) {
	root := t.TempDir()
	tmpl := project.Dir(filepath.Join(t.TempDir(), "missing"))

	_, err := monitor.New("", monitor.WithExecutor(&fakeBuild{}), monitor.WithWorkDir(root), monitor.WithTemplate(tmpl)).
		Instrument(context.Background(), t.TempDir())
	require.ErrorIs(t, err, monitor.ErrWorkspace)
	require.ErrorIs(t, err, project.ErrMissing)
	requireEmpty(t, root)
}

func TestInstrumentCustomCommand(t *testing.T) {
	r := require.New(t)
	fb := &fakeBuild{produce: true}
	_, err := monitor.New("",
		monitor.WithExecutor(fb),
		monitor.WithWorkDir(t.TempDir()),
		monitor.WithBuildCommand("gradle", "assembleRelease", "--project-dir={dir}", "{dir}"),
	).Instrument(context.Background(), t.TempDir())
	r.NoError(err)

	ws := fb.calls[0][len(fb.calls[0])-1]
	r.Equal([]string{"gradle", "assembleRelease", "--project-dir=" + ws, ws}, fb.calls[0])
}

func TestInstrumentTwice(t *testing.T) {
	p := monitor.New("", monitor.WithExecutor(&fakeBuild{produce: true}), monitor.WithWorkDir(t.TempDir()))
	_, err := p.Instrument(context.Background(), t.TempDir())
	require.NoError(t, err)
	_, err = p.Instrument(context.Background(), t.TempDir())
	require.ErrorIs(t, err, monitor.ErrUsed)
}

func TestCompileDefaultList(t *testing.T) {
	r := require.New(t)
	root := t.TempDir()
	fb := &fakeBuild{produce: true}

	apk, err := monitor.Compile(context.Background(), "", t.TempDir(), monitor.WithExecutor(fb), monitor.WithWorkDir(root))
	r.NoError(err)
	r.FileExists(apk)

	ds, err := apis.Default()
	r.NoError(err)
	r.Equal(len(ds), strings.Count(fb.source, "@Hook("))
	r.Contains(fb.source, `if (p0.startsWith("Monitor"))`)
	requireEmpty(t, root)
}

func TestCompileParseErrorBeforeWorkspace(t *testing.T) {
	r := require.New(t)
	root := t.TempDir()
	descriptors := filepath.Join(t.TempDir(), "apis.json")
	r.NoError(os.WriteFile(descriptors, []byte(`[{"className": "android.hardware.Camera"}]`), 0o644))
	fb := &fakeBuild{produce: true}

	_, err := monitor.Compile(context.Background(), descriptors, t.TempDir(), monitor.WithExecutor(fb), monitor.WithWorkDir(root))
	r.ErrorIs(err, apis.ErrParse)
	r.Empty(fb.calls)
	requireEmpty(t, root)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "ArtifactCollected", monitor.ArtifactCollected.String())
	require.Equal(t, "State(42)", monitor.State(42).String())
}
