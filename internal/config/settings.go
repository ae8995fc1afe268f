// Package config loads monitorgen configuration from
// .monitorgen/settings.yaml.
//
// Every key is optional; absent keys keep the defaults below. A missing
// file is not an error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"monitorgen/internal/env"
)

// Settings holds monitorgen configuration.
type Settings struct {
	// WorkDir is where workspaces are created and tool resources live.
	// Empty means os.TempDir().
	WorkDir string `yaml:"workDir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// Timeout bounds every subprocess except the monitor build.
	Timeout time.Duration `yaml:"timeout"`

	Device Device `yaml:"device"`
	Tools  Tools  `yaml:"tools"`
	Build  Build  `yaml:"build"`
}

// Device overrides the on-device paths baked into the monitor.
type Device struct {
	TempDir      string `yaml:"tempDir"`
	PoliciesFile string `yaml:"policiesFile"`
	PortFile     string `yaml:"portFile"`
	MonitorApk   string `yaml:"monitorApk"`
}

// Tools locates the external programs and resources of the inlining
// pipeline.
type Tools struct {
	Java       string `yaml:"java"`
	Jarsigner  string `yaml:"jarsigner"`
	InlinerJar string `yaml:"inlinerJar"`
	LoaderDex  string `yaml:"loaderDex"`
	Keystore   string `yaml:"keystore"`
}

// Build configures the monitor build.
type Build struct {
	// Command replaces "gradlew clean build -p <workspace>". The literal
	// "{dir}" in any element is replaced with the workspace directory.
	Command []string `yaml:"command"`
	// TemplateDir replaces the bundled template project.
	TemplateDir string `yaml:"templateDir"`
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	c := env.Default()
	return &Settings{
		LogLevel: "info",
		Timeout:  10 * time.Minute,
		Device: Device{
			TempDir:      c.DeviceTempDir,
			PoliciesFile: c.PoliciesFileName,
			PortFile:     c.PortFileName,
			MonitorApk:   c.MonitorApkName,
		},
		Tools: Tools{
			Java:       "java",
			Jarsigner:  "jarsigner",
			InlinerJar: filepath.Join("resources", "appguard-inliner.jar"),
			LoaderDex:  filepath.Join("resources", "appguard-loader.dex"),
			Keystore:   filepath.Join("resources", "debug.keystore"),
		},
	}
}

// Path returns the settings file location relative to root.
func Path(root string) string {
	return filepath.Join(root, ".monitorgen", "settings.yaml")
}

// Load reads .monitorgen/settings.yaml relative to root, layered over
// Default(). Relative tool paths are resolved against root.
func Load(root string) (*Settings, error) {
	s := Default()
	path := Path(root)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.resolve(root)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if _, err := s.Level(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.resolve(root)
	return s, nil
}

// resolve makes resource paths absolute. Program names without a
// separator are left for exec.LookPath.
func (s *Settings) resolve(root string) {
	for _, p := range []*string{&s.Tools.InlinerJar, &s.Tools.LoaderDex, &s.Tools.Keystore, &s.Build.TemplateDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
	for _, p := range []*string{&s.Tools.Java, &s.Tools.Jarsigner} {
		if strings.ContainsRune(*p, filepath.Separator) && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

// Constants returns the device constants with any overrides applied.
func (s *Settings) Constants() env.Constants {
	c := env.Default()
	if s.Device.TempDir != "" {
		c.DeviceTempDir = s.Device.TempDir
	}
	if s.Device.PoliciesFile != "" {
		c.PoliciesFileName = s.Device.PoliciesFile
	}
	if s.Device.PortFile != "" {
		c.PortFileName = s.Device.PortFile
	}
	if s.Device.MonitorApk != "" {
		c.MonitorApkName = s.Device.MonitorApk
	}
	return c
}

// Level parses LogLevel.
func (s *Settings) Level() (slog.Level, error) {
	var l slog.Level
	if s.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}
