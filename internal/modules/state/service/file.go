package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"risksync/internal/models"
	"risksync/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// recordDoc описывает запись в state.json: {"<ticket>": {"sl", "tp", "slaves": {"<login>": ticket}}}
type recordDoc struct {
	SL     float64          `json:"sl"`
	TP     float64          `json:"tp"`
	Slaves map[string]int64 `json:"slaves"`
}

// File хранит стейт в одном JSON-файле. Запись атомарная: tmp -> fsync -> rename.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Load: нет файла, значит пустой стейт без ошибки. Битый файл даёт пустой стейт и ErrPersistence,
// вызывающий решает, логировать ли.
func (f *File) Load(ctx context.Context) (models.ReconciliationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := make(models.ReconciliationState)

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, errors.Wrapf(models.ErrPersistence, "read %s: %v", f.path, err)
	}
	if len(data) == 0 {
		return st, nil
	}

	var doc map[string]recordDoc
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return st, errors.Wrapf(models.ErrPersistence, "decode %s: %v", f.path, err)
	}

	for key, rec := range doc {
		ticket, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.Warn("state: skip bad ticket key %q in %s", key, f.path)
			continue
		}
		r := models.NewReplicationRecord(rec.SL, rec.TP)
		for acc, id := range rec.Slaves {
			r.Slaves[acc] = id
		}
		st[ticket] = r
	}
	return st, nil
}

func (f *File) Save(ctx context.Context, st models.ReconciliationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := make(map[string]recordDoc, len(st))
	for ticket, rec := range st {
		slaves := rec.Slaves
		if slaves == nil {
			slaves = map[string]int64{}
		}
		doc[strconv.FormatInt(ticket, 10)] = recordDoc{SL: rec.SL, TP: rec.TP, Slaves: slaves}
	}

	// ConfigStd сортирует ключи, файл стабилен между сохранениями
	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "    ")
	if err != nil {
		return errors.Wrapf(models.ErrPersistence, "encode state: %v", err)
	}

	if err := writeAtomic(f.path, data); err != nil {
		return errors.Wrapf(models.ErrPersistence, "write %s: %v", f.path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
