// Package journal keeps a local record of the specialist recommendations a
// user chose to share. Entries are appended as JSON lines so the file can be
// read with standard tools.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/healthguide/internal/chat"
)

// Record is one shared recommendation.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	ChatID     string    `json:"chat_id"`
	Specialist string    `json:"specialist"`
	Expertise  string    `json:"expertise,omitempty"`
	Conditions string    `json:"conditions,omitempty"`
}

// FileStore appends records to a file. It is safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore returns a store writing to path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the file the store writes to.
func (fs *FileStore) Path() string { return fs.path }

// Save appends sp as shared from the chat identified by chatID.
func (fs *FileStore) Save(chatID string, sp chat.Specialist) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(Record{
		Timestamp:  fs.now().UTC(),
		ChatID:     chatID,
		Specialist: sp.Name,
		Expertise:  sp.Expertise,
		Conditions: sp.Conditions,
	})
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}

// Load reads every record in the file. A missing file yields no records.
func (fs *FileStore) Load() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return out, fmt.Errorf("journal: %s line %d: %w", fs.path, line, err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("journal: read: %w", err)
	}
	return out, nil
}
