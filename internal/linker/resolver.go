package linker

import (
	"os"
	"path/filepath"
)

// LibraryResolver turns a DT_NEEDED name ("libc.so", "libfoo.so") into
// the raw bytes of the .so that provides it. Splitting this out of the
// linker lets the façade point it at an extracted APK's lib/arm64-v8a
// directory, a flat directory of .so files, or (in tests) an in-memory
// map, without the linker itself caring which.
type LibraryResolver interface {
	Resolve(name string) (data []byte, path string, err error)
}

// DefaultSearchPath is the conventional location this project's sample
// harness extracts Android system libraries to.
const DefaultSearchPath = "./android/sdk23/system/lib64"

// DiskResolver resolves a library name by searching a fixed list of
// directories in order, matching the target's own LD_LIBRARY_PATH-style
// convention.
type DiskResolver struct {
	SearchPaths []string
}

// NewDiskResolver returns a DiskResolver searching paths in order,
// falling back to DefaultSearchPath if none are given.
func NewDiskResolver(paths ...string) *DiskResolver {
	if len(paths) == 0 {
		paths = []string{DefaultSearchPath}
	}
	return &DiskResolver{SearchPaths: paths}
}

func (d *DiskResolver) Resolve(name string) ([]byte, string, error) {
	for _, dir := range d.SearchPaths {
		p := filepath.Join(dir, name)
		data, err := os.ReadFile(p)
		if err == nil {
			return data, p, nil
		}
	}
	return nil, "", &LoadError{Name: name, Reason: "not found in any search path"}
}
