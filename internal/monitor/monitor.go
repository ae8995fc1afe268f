// Package monitor builds the monitor APK from generated interception code.
//
// A Project walks a linear sequence of states:
//
//	Init -> WorkspaceMaterialized -> CodeInjected -> Built -> ArtifactCollected -> CleanedUp
//
// A failure in any state jumps straight to CleanedUp. The workspace is
// removed on every path out of Instrument.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"monitorgen/internal/apis"
	"monitorgen/internal/codegen"
	"monitorgen/internal/env"
	"monitorgen/internal/fileutil"
	"monitorgen/internal/inject"
	"monitorgen/internal/project"
	"monitorgen/internal/sysexec"
	"monitorgen/internal/workspace"
)

// DirPlaceholder is replaced with the workspace directory in every
// element of a build command.
const DirPlaceholder = "{dir}"

const workspacePrefix = "monitor-project"

var (
	// ErrWorkspace matches failures to set up the build workspace.
	ErrWorkspace = workspace.ErrWorkspace
	// ErrBuild matches every *BuildError.
	ErrBuild = errors.New("monitor build failed")
	// ErrArtifactNotFound matches every *ArtifactNotFoundError.
	ErrArtifactNotFound = errors.New("monitor artifact not found")
	// ErrUsed is returned when Instrument is called twice on one Project.
	ErrUsed = errors.New("monitor project already used")
)

// WorkspaceError reports a workspace that could not be created or filled
// with the template project.
type WorkspaceError struct {
	Dir string
	Err error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("materialize monitor project in %s: %v", e.Dir, e.Err)
}

func (e *WorkspaceError) Is(err error) bool { return err == ErrWorkspace }

func (e *WorkspaceError) Unwrap() error { return e.Err }

// BuildError reports a build that exited unsuccessfully. Output holds the
// diagnostics of the build tool.
type BuildError struct {
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("build monitor apk: %v", e.Err)
	}
	return fmt.Sprintf("build monitor apk: %v\n%s", e.Err, e.Output)
}

func (e *BuildError) Is(err error) bool { return err == ErrBuild }

func (e *BuildError) Unwrap() error { return e.Err }

// ArtifactNotFoundError reports a build that exited successfully without
// producing the monitor APK.
type ArtifactNotFoundError struct {
	Path string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("monitor apk not found at %s after build", e.Path)
}

func (e *ArtifactNotFoundError) Is(err error) bool { return err == ErrArtifactNotFound }

// State is a step of the build.
type State int

const (
	Init State = iota
	WorkspaceMaterialized
	CodeInjected
	Built
	ArtifactCollected
	CleanedUp
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case WorkspaceMaterialized:
		return "WorkspaceMaterialized"
	case CodeInjected:
		return "CodeInjected"
	case Built:
		return "Built"
	case ArtifactCollected:
		return "ArtifactCollected"
	case CleanedUp:
		return "CleanedUp"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option configures a Project.
type Option func(*Project)

// WithExecutor sets the executor running the build.
func WithExecutor(e sysexec.Executor) Option {
	return func(p *Project) { p.exec = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Project) { p.log = l }
}

// WithConstants sets the device constants injected into the template.
func WithConstants(c env.Constants) Option {
	return func(p *Project) { p.consts = c }
}

// WithWorkDir sets the directory workspaces are created in.
func WithWorkDir(dir string) Option {
	return func(p *Project) { p.workDir = dir }
}

// WithTemplate replaces the bundled template project.
func WithTemplate(s project.Source) Option {
	return func(p *Project) { p.template = s }
}

// WithBuildCommand replaces the gradle invocation. See DirPlaceholder.
func WithBuildCommand(cmd ...string) Option {
	return func(p *Project) {
		if len(cmd) > 0 {
			p.command = append([]string(nil), cmd...)
		}
	}
}

// WithMarkers replaces the injection markers of the template.
func WithMarkers(m inject.Markers) Option {
	return func(p *Project) { p.markers = m }
}

// Project builds one monitor APK.
type Project struct {
	methods string

	exec     sysexec.Executor
	log      *slog.Logger
	consts   env.Constants
	workDir  string
	template project.Source
	command  []string
	markers  inject.Markers

	state State
	ws    *workspace.Workspace
}

// New returns a Project that builds a monitor around the generated
// methods.
func New(methods string, opts ...Option) *Project {
	p := &Project{
		methods:  methods,
		consts:   env.Default(),
		template: project.Bundled(),
		command:  DefaultBuildCommand(),
		markers:  inject.DefaultMarkers(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.exec == nil {
		p.exec = &sysexec.System{Logger: p.log}
	}
	return p
}

// DefaultBuildCommand returns "gradlew clean build -p {dir}" for the host
// platform.
func DefaultBuildCommand() []string {
	gradlew := "gradlew"
	if runtime.GOOS == "windows" {
		gradlew = "gradlew.bat"
	}
	return []string{filepath.Join(DirPlaceholder, gradlew), "clean", "build", "-p", DirPlaceholder}
}

// State returns the state the project is in.
func (p *Project) State() State { return p.state }

// Instrument builds the monitor APK and copies it into dstDir, returning
// the path of the copy. The workspace is removed whether or not the build
// succeeds.
func (p *Project) Instrument(ctx context.Context, dstDir string) (string, error) {
	if p.state != Init {
		return "", ErrUsed
	}
	defer p.teardown()

	if err := p.materialize(); err != nil {
		return "", err
	}
	if err := p.inject(); err != nil {
		return "", err
	}
	if err := p.build(ctx); err != nil {
		return "", err
	}
	return p.collect(dstDir)
}

func (p *Project) materialize() error {
	ws, err := workspace.New(p.workDir, workspacePrefix, p.log)
	if err != nil {
		return err
	}
	p.ws = ws
	if err := p.template.Materialize(ws.Dir); err != nil {
		return &WorkspaceError{Dir: ws.Dir, Err: fmt.Errorf("template %s: %w", p.template, err)}
	}
	p.state = WorkspaceMaterialized
	p.log.Info("monitor project materialized", "dir", ws.Dir, "template", p.template.String())
	return nil
}

func (p *Project) inject() error {
	path := p.ws.Path(filepath.FromSlash(project.SourceFile))
	src, err := os.ReadFile(path)
	if err != nil {
		return &WorkspaceError{Dir: p.ws.Dir, Err: err}
	}
	out, err := inject.Inject(string(src), p.markers, inject.Values{
		Methods:      p.methods,
		PoliciesPath: p.consts.PoliciesPath(),
		PortPath:     p.consts.PortPath(),
	})
	if err != nil {
		return fmt.Errorf("inject into %s: %w", project.SourceFile, err)
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return &WorkspaceError{Dir: p.ws.Dir, Err: err}
	}
	p.state = CodeInjected
	p.log.Debug("code injected", "file", path)
	return nil
}

func (p *Project) build(ctx context.Context) error {
	args := make([]string, len(p.command))
	for i, a := range p.command {
		args[i] = strings.ReplaceAll(a, DirPlaceholder, p.ws.Dir)
	}
	if _, err := p.exec.ExecuteWithoutTimeout(ctx, "build monitor apk", args[0], args[1:]...); err != nil {
		be := &BuildError{Err: err}
		var ce *sysexec.CommandError
		if errors.As(err, &ce) {
			be.Output = ce.Output
		}
		return be
	}
	p.state = Built
	return nil
}

func (p *Project) collect(dstDir string) (string, error) {
	artifact := p.ws.Path(filepath.FromSlash(project.ArtifactFile))
	if !fileutil.Exists(artifact) {
		return "", &ArtifactNotFoundError{Path: artifact}
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dstDir, err)
	}
	dst := filepath.Join(dstDir, p.consts.MonitorApkName)
	if err := fileutil.CopyFile(artifact, dst); err != nil {
		return "", fmt.Errorf("copy monitor apk to %s: %w", dst, err)
	}
	p.state = ArtifactCollected
	p.log.Info("monitor apk collected", "apk", dst)
	return dst, nil
}

func (p *Project) teardown() {
	p.ws.Close()
	p.state = CleanedUp
}

// Compile loads descriptors from descriptorsPath, or the bundled list when
// it is empty, and builds the monitor APK into dstDir. Descriptor errors
// are returned before any workspace is created.
func Compile(ctx context.Context, descriptorsPath, dstDir string, opts ...Option) (string, error) {
	var (
		ds  []apis.Descriptor
		err error
	)
	if descriptorsPath == "" {
		ds, err = apis.Default()
	} else {
		ds, err = apis.Load(descriptorsPath)
	}
	if err != nil {
		return "", err
	}
	p := New("", opts...)
	p.methods = codegen.GenerateAll(ds, p.consts)
	p.log.Info("generated monitor methods", "apis", len(ds))
	return p.Instrument(ctx, dstDir)
}
