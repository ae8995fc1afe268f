// Package inline wires the monitor loader into existing APKs.
//
// For every input calc.apk the external inliner writes calc-inlined.apk
// next to it. The result is signed with the debug key and moved into the
// output directory.
package inline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"monitorgen/internal/env"
	"monitorgen/internal/fileutil"
	"monitorgen/internal/sign"
	"monitorgen/internal/sysexec"
)

const (
	apkExt        = ".apk"
	inlinedSuffix = "-inlined"
)

// ErrInlineConsistency matches every *ConsistencyError.
var ErrInlineConsistency = errors.New("inline consistency")

// ConsistencyError reports an inlined sibling that existed before the
// inliner ran, or was missing after it.
type ConsistencyError struct {
	Path   string
	Before bool
}

func (e *ConsistencyError) Error() string {
	if e.Before {
		return fmt.Sprintf("inlined apk %s already exists before inlining", e.Path)
	}
	return fmt.Sprintf("inliner did not produce %s", e.Path)
}

func (e *ConsistencyError) Is(err error) bool { return err == ErrInlineConsistency }

// Tools locates the programs and resources the pipeline runs.
type Tools struct {
	Java       string // Empty means "java".
	InlinerJar string
	LoaderDex  string
	Jarsigner  string
	Keystore   string
}

// Option configures an Inliner.
type Option func(*Inliner)

// WithExecutor sets the executor running the inliner and the default
// signer.
func WithExecutor(e sysexec.Executor) Option {
	return func(in *Inliner) { in.exec = e }
}

// WithSigner replaces the jarsigner based signer.
func WithSigner(s sign.Signer) Option {
	return func(in *Inliner) { in.signer = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inliner) { in.log = l }
}

// WithConstants sets the device constants naming the monitor APK and
// class.
func WithConstants(c env.Constants) Option {
	return func(in *Inliner) { in.consts = c }
}

// Inliner runs the inlining pipeline.
type Inliner struct {
	tools  Tools
	exec   sysexec.Executor
	signer sign.Signer
	log    *slog.Logger
	consts env.Constants
}

// New returns an Inliner using tools.
func New(tools Tools, opts ...Option) *Inliner {
	in := &Inliner{tools: tools, consts: env.Default()}
	for _, o := range opts {
		o(in)
	}
	if in.log == nil {
		in.log = slog.Default()
	}
	if in.exec == nil {
		in.exec = &sysexec.System{Logger: in.log}
	}
	if in.tools.Java == "" {
		in.tools.Java = "java"
	}
	if in.signer == nil {
		in.signer = &sign.Jarsigner{Exec: in.exec, Path: in.tools.Jarsigner, Keystore: in.tools.Keystore}
	}
	return in
}

// InlinedName returns the file name the inliner writes for apk.
func InlinedName(apk string) string {
	base := filepath.Base(apk)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + inlinedSuffix + ext
}

// Process inlines input into outDir and returns the paths of the inlined
// APKs. A directory input is scanned for *.apk files, skipping earlier
// *-inlined.apk outputs; an empty scan logs a warning and returns no
// paths. A missing input is created as an empty directory.
func (in *Inliner) Process(ctx context.Context, input, outDir string) ([]string, error) {
	info, err := os.Stat(input)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(input, 0o755); err != nil {
			return nil, fmt.Errorf("create input dir: %w", err)
		}
		info, err = os.Stat(input)
	}
	if err != nil {
		return nil, err
	}
	outInfo, err := os.Stat(outDir)
	if err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	if !outInfo.IsDir() {
		return nil, fmt.Errorf("output dir %s is not a directory", outDir)
	}

	if !info.IsDir() {
		out, err := in.inlineInto(ctx, input, outDir)
		if err != nil {
			return nil, err
		}
		return []string{out}, nil
	}

	apks, err := scan(input)
	if err != nil {
		return nil, err
	}
	if len(apks) == 0 {
		in.log.Warn("no target apks for inlining found", "dir", input)
		return nil, nil
	}
	var outs []string
	for _, apk := range apks {
		out, err := in.inlineInto(ctx, apk, outDir)
		if err != nil {
			return outs, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// scan lists the APKs directly inside dir that are not inliner outputs.
func scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var apks []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, apkExt) || strings.HasSuffix(name, inlinedSuffix+apkExt) {
			continue
		}
		apks = append(apks, filepath.Join(dir, name))
	}
	return apks, nil
}

// inlineInto runs the pipeline for one apk. Unless the result reaches
// outDir, the inliner output is removed so a retry starts clean.
func (in *Inliner) inlineInto(ctx context.Context, apk, outDir string) (string, error) {
	inlined, err := in.inline(ctx, apk)
	if err != nil {
		return "", err
	}
	leftovers := []string{inlined}
	defer func() {
		for _, f := range leftovers {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				in.log.Warn("failed to remove partial output", "apk", f, "err", err)
			}
		}
	}()

	signed, err := in.signer.SignWithDebugKey(ctx, inlined)
	if err != nil {
		return "", err
	}
	if signed != inlined {
		leftovers = append(leftovers, signed)
	}
	dst := filepath.Join(outDir, filepath.Base(signed))
	if err := fileutil.Move(signed, dst); err != nil {
		return "", fmt.Errorf("move %s: %w", signed, err)
	}
	leftovers = nil
	in.log.Info("apk inlined", "apk", apk, "out", dst)
	return dst, nil
}

func (in *Inliner) inline(ctx context.Context, apk string) (string, error) {
	inlined := filepath.Join(filepath.Dir(apk), InlinedName(apk))
	if _, err := os.Stat(inlined); err == nil {
		return "", &ConsistencyError{Path: inlined, Before: true}
	}

	_, err := in.exec.Execute(ctx, "inline "+apk, in.tools.Java,
		"-jar", in.tools.InlinerJar,
		apk,
		in.tools.LoaderDex,
		in.consts.MonitorApkPath(),
		in.consts.MonitorClass,
	)
	if err != nil {
		return "", fmt.Errorf("inline %s: %w", apk, err)
	}

	if !fileutil.Exists(inlined) {
		return "", &ConsistencyError{Path: inlined}
	}
	return inlined, nil
}
