// Package env holds the device-side constants baked into the monitor.
package env

import "path"

// Constants are the device paths and log tags shared by the generator,
// the template injector and the inliner.
type Constants struct {
	DeviceTempDir    string // Directory on the device for pushed files.
	PoliciesFileName string
	PortFileName     string
	MonitorApkName   string // Canonical file name of the compiled monitor.
	MonitorClass     string // Class the inliner wires the loader to.

	TagPrefix string // Prefix of every tag the monitor logs under.
	TagAPI    string // Tag for intercepted API calls.
	LogLevel  string // Log method used for API calls, e.g. "i".
}

// Default returns the constants used by the monitor runtime.
func Default() Constants {
	return Constants{
		DeviceTempDir:    "/data/local/tmp/",
		PoliciesFileName: "api_policies.txt",
		PortFileName:     "port.tmp",
		MonitorApkName:   "monitor.apk",
		MonitorClass:     "org.droidmate.monitor.Monitor",
		TagPrefix:        "Monitor",
		TagAPI:           "Monitor_API_method_call",
		LogLevel:         "i",
	}
}

// PoliciesPath is the on-device path of the API policies file.
func (c Constants) PoliciesPath() string {
	return path.Join(c.DeviceTempDir, c.PoliciesFileName)
}

// PortPath is the on-device path of the file holding the monitor port.
func (c Constants) PortPath() string {
	return path.Join(c.DeviceTempDir, c.PortFileName)
}

// MonitorApkPath is the on-device path of the monitor apk loaded by
// inlined apps.
func (c Constants) MonitorApkPath() string {
	return path.Join(c.DeviceTempDir, c.MonitorApkName)
}
