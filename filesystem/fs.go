// Package filesystem locates module images on disk. Modules are looked up
// by their DT_NEEDED name in an ordered list of directories.
package filesystem

import (
	"io/fs"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type FS interface {
	fs.StatFS
	fs.ReadFileFS
}

// SearchPath is an ordered list of directories; the first one holding a
// module wins.
type SearchPath []fs.FS

// Find reads the module called name from the first directory that has it.
func (sp SearchPath) Find(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, errors.Wrapf(fs.ErrInvalid, "module name %q", name)
	}
	for _, dir := range sp {
		data, err := fs.ReadFile(dir, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read %s", name)
		}
	}
	return nil, errors.Wrapf(fs.ErrNotExist, "module %s", name)
}

// ReadAll reads every named module. A missing or unreadable module does not
// stop the others from being read; all failures are combined into the
// returned error.
func (sp SearchPath) ReadAll(names []string) (map[string][]byte, error) {
	var err error
	modules := make(map[string][]byte, len(names))
	for _, name := range names {
		data, e := sp.Find(name)
		if e != nil {
			err = multierr.Append(err, e)
			continue
		}
		modules[name] = data
	}
	return modules, err
}
