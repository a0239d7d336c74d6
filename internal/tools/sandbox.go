package tools

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrSandbox marks filesystem requests the sandbox refuses.
var ErrSandbox = errors.New("sandbox")

const maxFileBytes = 256 << 10

// Sandbox confines each agent to its own directory under a root filesystem.
type Sandbox struct {
	root afero.Fs
}

// NewSandbox roots agent workspaces at dir on the host filesystem.
func NewSandbox(dir string) *Sandbox {
	return &Sandbox{root: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// NewSandboxFs uses fs as the root, e.g. an in-memory filesystem.
func NewSandboxFs(fs afero.Fs) *Sandbox {
	return &Sandbox{root: fs}
}

func (s *Sandbox) agentFs(agentID string) (afero.Fs, error) {
	if agentID == "" || strings.ContainsAny(agentID, `/\`) || agentID == ".." {
		return nil, fmt.Errorf("%w: invalid agent workspace", ErrSandbox)
	}
	if err := s.root.MkdirAll("/"+agentID, 0o755); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(s.root, "/"+agentID), nil
}

// clean rejects absolute escapes and parent traversal before afero sees the path.
func clean(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", fmt.Errorf("%w: path %q escapes the workspace", ErrSandbox, p)
		}
	}
	return path.Clean("/" + p), nil
}

func (s *Sandbox) Read(agentID, p string) (string, error) {
	fs, err := s.agentFs(agentID)
	if err != nil {
		return "", err
	}
	name, err := clean(p)
	if err != nil {
		return "", err
	}
	info, err := fs.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: file %q not found", ErrSandbox, p)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q is a directory", ErrSandbox, p)
	}
	if info.Size() > maxFileBytes {
		return "", fmt.Errorf("%w: %q is larger than %d bytes", ErrSandbox, p, maxFileBytes)
	}
	b, err := afero.ReadFile(fs, name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Sandbox) Write(agentID, p, content string) (int, error) {
	if len(content) > maxFileBytes {
		return 0, fmt.Errorf("%w: content larger than %d bytes", ErrSandbox, maxFileBytes)
	}
	fs, err := s.agentFs(agentID)
	if err != nil {
		return 0, err
	}
	name, err := clean(p)
	if err != nil {
		return 0, err
	}
	if name == "/" {
		return 0, fmt.Errorf("%w: path is required", ErrSandbox)
	}
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return 0, err
	}
	if err := afero.WriteFile(fs, name, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return len(content), nil
}

type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (s *Sandbox) List(agentID, p string) ([]FileEntry, error) {
	fs, err := s.agentFs(agentID)
	if err != nil {
		return nil, err
	}
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(fs, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory %q not found", ErrSandbox, p)
		}
		return nil, err
	}
	out := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, FileEntry{Name: fi.Name(), IsDir: fi.IsDir(), Size: fi.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
