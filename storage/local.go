package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"VoiceFM/core/utils"
	"VoiceFM/logger"
)

// AudioExt 曲库文件扩展名
const AudioExt = ".mp3"

var ErrInvalidID = errors.New("storage: invalid track id")

// Stats 本地曲库统计
type Stats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// LocalStore keeps one <id>.mp3 per track under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("创建曲库目录失败: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

// Dir is the library root.
func (s *LocalStore) Dir() string { return s.dir }

// Path is where the file for id lives, whether or not it exists yet.
func (s *LocalStore) Path(id string) (string, error) {
	name, ok := fileName(id)
	if !ok {
		return "", ErrInvalidID
	}
	return filepath.Join(s.dir, name), nil
}

// Exists reports the path of id when a non-empty file is present.
func (s *LocalStore) Exists(id string) (string, bool) {
	path, err := s.Path(id)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return "", false
	}
	return path, true
}

// Save writes r as the file for id.
func (s *LocalStore) Save(id string, r io.Reader) (string, error) {
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}
	n, err := utils.WriteFileAtomic(path, r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		os.Remove(path)
		return "", fmt.Errorf("save %s: empty body", id)
	}
	logger.Debug("[LocalStore] 文件已保存", logger.String("track", id), logger.Int64("bytes", n))
	return path, nil
}

// Remove deletes the file for id. A missing file is not an error.
func (s *LocalStore) Remove(id string) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IDs lists the ids present in the library.
func (s *LocalStore) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !IsAudioFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), AudioExt))
	}
	return ids, nil
}

// Stats counts the audio files and their total size.
func (s *LocalStore) Stats() (Stats, error) {
	var st Stats
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return st, err
	}
	for _, e := range entries {
		if e.IsDir() || !IsAudioFile(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Files++
		st.Bytes += info.Size()
	}
	return st, nil
}

// IsAudioFile reports whether name has the library extension.
func IsAudioFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), AudioExt)
}

// fileName maps an id to a file name, rejecting ids that could escape the directory.
func fileName(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\:`) || strings.HasPrefix(id, ".") {
		return "", false
	}
	return id + AudioExt, true
}
