// Package sign signs APKs with the Android debug key.
package sign

import (
	"context"
	"fmt"

	"monitorgen/internal/sysexec"
)

// Debug key credentials shipped with the Android SDK.
const (
	DebugAlias    = "androiddebugkey"
	DebugPassword = "android"
)

// Signer signs an APK in place and returns its path.
type Signer interface {
	SignWithDebugKey(ctx context.Context, apk string) (string, error)
}

// Jarsigner signs with the JDK jarsigner tool.
type Jarsigner struct {
	Exec     sysexec.Executor
	Path     string // Program name or path; empty means "jarsigner".
	Keystore string
}

var _ Signer = (*Jarsigner)(nil)

// SignWithDebugKey implements Signer.
func (j *Jarsigner) SignWithDebugKey(ctx context.Context, apk string) (string, error) {
	prog := j.Path
	if prog == "" {
		prog = "jarsigner"
	}
	_, err := j.Exec.Execute(ctx, "sign with debug key", prog,
		"-sigalg", "MD5withRSA",
		"-digestalg", "SHA1",
		"-storepass", DebugPassword,
		"-keypass", DebugPassword,
		"-keystore", j.Keystore,
		apk,
		DebugAlias,
	)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", apk, err)
	}
	return apk, nil
}
