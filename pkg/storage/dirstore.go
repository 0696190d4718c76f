package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/solo/pkg/types"
	"golang.org/x/sys/unix"
)

// DirStore owns the data directory every project lives under. Its mutating
// operations are only safe with no other instance running.
type DirStore struct {
	mu     sync.RWMutex
	root   string
	logger hclog.Logger
}

func NewDirStore(root string, logger hclog.Logger) (*DirStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &DirStore{root: abs, logger: logger}, nil
}

func (s *DirStore) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// ProjectPath is where a project of that name lives under the root.
func (s *DirStore) ProjectPath(name string) string {
	return filepath.Join(s.Root(), name)
}

// DataFile is the file holding the project's persisted data.
func DataFile(p types.ProjectIdentity) string {
	return filepath.Join(p.Path, "project."+string(p.Backend))
}

// Move relocates the whole data directory to newRoot, copying when the
// rename crosses filesystems.
func (s *DirStore) Move(newRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst, err := filepath.Abs(newRoot)
	if err != nil {
		return err
	}
	if dst == s.root {
		return nil
	}
	if _, err := os.Stat(dst); err == nil {
		entries, _ := os.ReadDir(dst)
		if len(entries) > 0 {
			return fmt.Errorf("move data directory: %s is not empty", dst)
		}
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	err = os.Rename(s.root, dst)
	if errors.Is(err, unix.EXDEV) {
		s.logger.Debug("rename crosses devices, copying", "from", s.root, "to", dst)
		if err = copyTree(s.root, dst); err == nil {
			err = os.RemoveAll(s.root)
		}
	}
	if err != nil {
		return fmt.Errorf("move data directory: %w", err)
	}

	s.logger.Info("moved data directory", "from", s.root, "to", dst)
	s.root = dst
	return nil
}

// Restore replaces the project's data file with the backup file, keeping a
// copy of the current one first when asked.
func (s *DirStore) Restore(settings types.RestoreSettings) error {
	if err := settings.Project.Validate(); err != nil {
		return err
	}
	if settings.BackupFile == "" {
		return fmt.Errorf("restore %s: no backup file", settings.Project)
	}

	data := DataFile(settings.Project)
	if settings.CreateSafetyBackup {
		if _, err := os.Stat(data); err == nil {
			if err := copyFile(data, data+".bak"); err != nil {
				return fmt.Errorf("restore %s: safety backup: %w", settings.Project, err)
			}
		}
	}

	if err := os.MkdirAll(settings.Project.Path, 0755); err != nil {
		return err
	}
	tmp := data + ".restore"
	if err := copyFile(settings.BackupFile, tmp); err != nil {
		return fmt.Errorf("restore %s: %w", settings.Project, err)
	}
	if err := os.Rename(tmp, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("restore %s: %w", settings.Project, err)
	}

	s.logger.Info("restored project", "project", settings.Project, "backup", settings.BackupFile)
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
