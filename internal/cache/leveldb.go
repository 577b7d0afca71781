package cache

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelStore はLevelDBを使用したStoreの永続実装。
// プロセス再起動をまたいでキャッシュが生存するため、
// コールドスタート直後のオリジン負荷を抑えられる。
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore は指定ディレクトリのLevelDBを開き、LevelStoreを生成する。
// ディレクトリが存在しない場合は作成される。
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to open leveldb at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// Get はキーに対応する値を返す。
func (s *LevelStore) Get(key string) ([]byte, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: leveldb get failed: %w", err)
	}
	return value, nil
}

// Put はキーに値を書き込む。
func (s *LevelStore) Put(key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("cache: leveldb put failed: %w", err)
	}
	return nil
}

// Delete はキーを削除する。
func (s *LevelStore) Delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("cache: leveldb delete failed: %w", err)
	}
	return nil
}

// ForEach は全エントリを走査する。
func (s *LevelStore) ForEach(fn func(key string, value []byte) error) error {
	it := s.db.NewIterator(nil, nil)
	defer it.Release()

	for it.Next() {
		// イテレータのバッファは次のNextで再利用されるためコピーする
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		if err := fn(string(it.Key()), value); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("cache: leveldb iteration failed: %w", err)
	}
	return nil
}

// Close はLevelDBを閉じる。
func (s *LevelStore) Close() error {
	return s.db.Close()
}
