package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
)

type sysDirFS string

func SysDirFS(dir string) FS {
	return sysDirFS(dir)
}

// SysPath builds a SearchPath of host directories.
func SysPath(dirs ...string) SearchPath {
	sp := make(SearchPath, len(dirs))
	for i, dir := range dirs {
		sp[i] = SysDirFS(dir)
	}
	return sp
}

func (d sysDirFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return os.Open(d.join(name))
}

func (d sysDirFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return os.Stat(d.join(name))
}

func (d sysDirFS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	return os.ReadFile(d.join(name))
}

func (d sysDirFS) join(name string) string {
	return filepath.Join(string(d), filepath.FromSlash(name))
}
