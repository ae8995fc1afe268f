// Package apis describes the Android API methods the monitor intercepts.
//
// A Descriptor is built once by the loader and is treated as read-only
// afterwards; the generator only ever reads from it.
package apis

import (
	"fmt"
	"strings"
)

// UriClass is the parameter type whose values are forwarded to the
// runtime policy lookup.
const UriClass = "android.net.Uri"

// Descriptor describes one interceptable method.
type Descriptor struct {
	ObjectClass   string   // Fully qualified owning type, e.g. "android.util.Log".
	MethodName    string   // Method being hooked, e.g. "v".
	Name          string   // Declaration of the generated hook method.
	ReturnClass   string   // Return type of the generated hook method.
	ParamClasses  []string // Positional parameter types, bound to p0..pN.
	IsStatic      bool
	Hook          string // Identifier consumed by the runtime hook mechanism.
	InvokeCode    string // Performs the original call and returns. Emitted verbatim.
	LogID         string // Expression producing the log signature.
	DefaultValue  string // Expression returned for mocked calls.
	ExceptionType string // Exception thrown for denied calls.
}

// New returns a Descriptor that owns a private copy of params.
func New(objectClass, methodName, name, returnClass string, params []string, isStatic bool,
	hook, invokeCode, logID, defaultValue, exceptionType string) Descriptor {
	return Descriptor{
		ObjectClass:   objectClass,
		MethodName:    methodName,
		Name:          name,
		ReturnClass:   returnClass,
		ParamClasses:  append([]string(nil), params...),
		IsStatic:      isStatic,
		Hook:          hook,
		InvokeCode:    invokeCode,
		LogID:         logID,
		DefaultValue:  defaultValue,
		ExceptionType: exceptionType,
	}
}

// ParamNames returns the implicit parameter variables p0..pN-1.
func (d Descriptor) ParamNames() []string {
	names := make([]string, len(d.ParamClasses))
	for i := range d.ParamClasses {
		names[i] = fmt.Sprintf("p%d", i)
	}
	return names
}

// UriParams returns the variables of every android.net.Uri parameter, in
// parameter order.
func (d Descriptor) UriParams() []string {
	var out []string
	for i, c := range d.ParamClasses {
		if c == UriClass {
			out = append(out, fmt.Sprintf("p%d", i))
		}
	}
	return out
}

// ShortSignature identifies the method in the runtime policy file:
//
//	android.net.wifi.WifiManager->startScan()
//	android.content.ContentResolver->query(android.net.Uri,java.lang.String[])
func (d Descriptor) ShortSignature() string {
	return d.ObjectClass + "->" + d.MethodName + "(" + strings.Join(d.ParamClasses, ",") + ")"
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.ShortSignature()
}
