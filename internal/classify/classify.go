// Package classify derives structured build attributes from release asset
// file names. Classification is a pure function of the name: same input,
// same tags, no I/O. Unrecognized axes stay at their Any value.
package classify

import "strings"

// Arch is the target CPU architecture encoded in the name prefix.
type Arch string

const (
	ArchAny    Arch = "any"
	ArchI686   Arch = "i686"
	ArchX86_64 Arch = "x86_64"
)

// ThreadModel is the GCC thread runtime variant.
type ThreadModel string

const (
	ThreadsAny   ThreadModel = "any"
	ThreadsPosix ThreadModel = "posix"
	ThreadsWin32 ThreadModel = "win32"
	ThreadsMcf   ThreadModel = "mcf"
)

// ExceptionModel is the exception/unwind mechanism baked into the build.
type ExceptionModel string

const (
	ExceptionsAny   ExceptionModel = "any"
	ExceptionsSeh   ExceptionModel = "seh"
	ExceptionsDwarf ExceptionModel = "dwarf"
)

// CRuntime is the Microsoft C runtime the build links against.
type CRuntime string

const (
	CRuntimeAny    CRuntime = "any"
	CRuntimeUcrt   CRuntime = "ucrt"
	CRuntimeMsvcrt CRuntime = "msvcrt"
)

// RuntimeVersion is the bundled runtime package revision, when encoded.
type RuntimeVersion string

const (
	RuntimeAny RuntimeVersion = "any"
	RuntimeV13 RuntimeVersion = "rt_v13"
)

// Tags is the full classification of one asset name, one value per axis.
// An axis left at its Any value means the name carries no marker for it.
type Tags struct {
	Arch       Arch           `json:"arch"`
	Threads    ThreadModel    `json:"threads"`
	Exceptions ExceptionModel `json:"exceptions"`
	CRuntime   CRuntime       `json:"crt"`
	Runtime    RuntimeVersion `json:"runtime"`
}

// Architecture is detected from the name prefix only; every other axis is
// detected from delimited tokens anywhere in the name. A token counts as
// present when it appears as "-tok-" or as "-tok." (trailing position,
// immediately before the extension). Per axis the first matching marker
// wins; axes are evaluated independently.
var (
	archPrefixes = []struct {
		prefix string
		value  Arch
	}{
		{"i686-", ArchI686},
		{"x86_64-", ArchX86_64},
	}

	threadMarkers = []struct {
		token string
		value ThreadModel
	}{
		{"posix", ThreadsPosix},
		{"win32", ThreadsWin32},
		{"mcf", ThreadsMcf},
	}

	exceptionMarkers = []struct {
		token string
		value ExceptionModel
	}{
		{"seh", ExceptionsSeh},
		{"dwarf", ExceptionsDwarf},
	}

	cRuntimeMarkers = []struct {
		token string
		value CRuntime
	}{
		{"ucrt", CRuntimeUcrt},
		{"msvcrt", CRuntimeMsvcrt},
	}

	runtimeMarkers = []struct {
		token string
		value RuntimeVersion
	}{
		{"rt_v13", RuntimeV13},
	}
)

// Classify parses an asset file name into Tags. It is total: any string,
// including the empty string, yields a valid result.
func Classify(name string) Tags {
	tags := Tags{
		Arch:       ArchAny,
		Threads:    ThreadsAny,
		Exceptions: ExceptionsAny,
		CRuntime:   CRuntimeAny,
		Runtime:    RuntimeAny,
	}

	for _, p := range archPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			tags.Arch = p.value
			break
		}
	}

	for _, m := range threadMarkers {
		if hasToken(name, m.token) {
			tags.Threads = m.value
			break
		}
	}

	for _, m := range exceptionMarkers {
		if hasToken(name, m.token) {
			tags.Exceptions = m.value
			break
		}
	}

	for _, m := range cRuntimeMarkers {
		if hasToken(name, m.token) {
			tags.CRuntime = m.value
			break
		}
	}

	for _, m := range runtimeMarkers {
		if hasToken(name, m.token) {
			tags.Runtime = m.value
			break
		}
	}

	return tags
}

// hasToken reports whether tok occurs in name delimited as "-tok-" or,
// for a token in trailing position, as "-tok.".
func hasToken(name, tok string) bool {
	return strings.Contains(name, "-"+tok+"-") || strings.Contains(name, "-"+tok+".")
}

// String renders tags in the compact axis order used by listings, with
// undetected axes shown as "-".
func (t Tags) String() string {
	parts := []string{
		axisString(string(t.Arch)),
		axisString(string(t.Threads)),
		axisString(string(t.Exceptions)),
		axisString(string(t.CRuntime)),
		axisString(string(t.Runtime)),
	}
	return strings.Join(parts, "/")
}

func axisString(v string) string {
	if v == "any" || v == "" {
		return "-"
	}
	return v
}
