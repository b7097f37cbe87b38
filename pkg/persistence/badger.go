package persistence

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/betbot/adaptrade/pkg/logger"
	badger "github.com/dgraph-io/badger/v4"
)

// BadgerOptions Badger 持久化选项
type BadgerOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes；为空则不加密
	InMemory      bool   // 测试用
}

// BadgerService 基于 Badger KV 的持久化服务（单进程独占目录）
type BadgerService struct {
	db *badger.DB
}

// OpenBadgerService 打开 Badger 数据库
func OpenBadgerService(opts BadgerOptions) (*BadgerService, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("persistence: badger path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if len(opts.EncryptionKey) > 0 {
		// Badger 加密需要 index cache
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &BadgerService{db: db}, nil
}

// Close 关闭数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	return &BadgerStore{db: s.db, key: []byte(storeKey(prefix, id, tag))}
}

// BadgerStore 单个 key 的 JSON 值
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// Save 保存数据
func (s *BadgerStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

// Load 加载数据
func (s *BadgerStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotExists
		}
		return err
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(raw, data)
}

// ParseEncryptionKey 解析 32 字节密钥（hex 或 base64）；空输入返回 nil
func ParseEncryptionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	// 优先按 hex 解析，避免把 hex 串误当 base64
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
