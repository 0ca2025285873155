// Package backupstore implements Pensieve's optional, advisory per-memory
// on-disk cache: a directory per key holding a dual-codec content file and
// a fingerprint file, fronted by a shared in-memory LRU so repeated
// backup-hit checks across a process's lifetime don't all touch disk.
//
// Loss of the backup never corrupts correctness — Store only returns
// errors for problems the caller should know about (e.g. a bad backup
// root); encode/decode failures are swallowed and reported as "no
// backup", forcing recomputation instead of a hard failure.
package backupstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// entry is what the front-of-disk LRU caches: the last known content and
// fingerprint for one memory key.
type entry struct {
	content     any
	fingerprint string
}

// Store is a backup root shared by every memory of one Pensieve. Each
// memory gets its own subdirectory, named after its key, within
// <root>/memories/.
type Store struct {
	root  string
	cache *lru.Cache[string, entry]
}

// Open creates a Store rooted at dir, creating it if necessary. cacheSize
// bounds the shared in-memory front cache; 0 picks a reasonable default.
func Open(dir string, cacheSize int) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("backupstore: root directory must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, "memories"), 0o700); err != nil {
		return nil, fmt.Errorf("backupstore: creating root %s: %w", dir, err)
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, entry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("backupstore: creating LRU front cache: %w", err)
	}
	return &Store{root: dir, cache: c}, nil
}

func (s *Store) memDir(key string) string {
	return filepath.Join(s.root, "memories", key)
}

func (s *Store) contentPrimaryPath(key string) string { return filepath.Join(s.memDir(key), key+"_content.pickle") }
func (s *Store) contentFallbackPath(key string) string {
	return filepath.Join(s.memDir(key), key+"_content.dill")
}
func (s *Store) hashPath(key string) string { return filepath.Join(s.memDir(key), key+"_hash.pickle") }

// Exists reports whether a backup (content and hash) is present for key,
// consulting the front cache before touching disk.
func (s *Store) Exists(key string) bool {
	if _, ok := s.cache.Get(key); ok {
		return true
	}
	_, err := os.Stat(s.hashPath(key))
	if err != nil {
		return false
	}
	if _, err := os.Stat(s.contentPrimaryPath(key)); err == nil {
		return true
	}
	_, err = os.Stat(s.contentFallbackPath(key))
	return err == nil
}

// LoadHash returns the fingerprint last stored for key, or "" if absent.
func (s *Store) LoadHash(key string) (string, bool) {
	if e, ok := s.cache.Get(key); ok {
		return e.fingerprint, true
	}
	data, err := os.ReadFile(s.hashPath(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// StoreHash persists fp as the fingerprint for key.
func (s *Store) StoreHash(key, fp string) error {
	if err := os.MkdirAll(s.memDir(key), 0o700); err != nil {
		return fmt.Errorf("backupstore: creating directory for %q: %w", key, err)
	}
	if err := os.WriteFile(s.hashPath(key), []byte(fp), 0o600); err != nil {
		return fmt.Errorf("backupstore: writing hash for %q: %w", key, err)
	}
	return nil
}

// LoadContent returns the cached content for key, decoding with the
// primary codec first and falling back to the secondary codec. If dst is
// nil, content is decoded into a generic any: the primary codec restores
// the concrete type it wrote, while the fallback JSON codec yields generic
// JSON values (float64 for numbers). If dst is a pointer, the decoded
// value is stored through it when its type is assignable.
func (s *Store) LoadContent(key string, dst any) (any, bool) {
	if e, ok := s.cache.Get(key); ok {
		return e.content, true
	}

	if data, err := os.ReadFile(s.contentPrimaryPath(key)); err == nil {
		var v any
		if decodeGobInto(data, &v) {
			if dst == nil {
				return v, true
			}
			if rv := reflect.ValueOf(dst); rv.Kind() == reflect.Pointer && !rv.IsNil() && v != nil && reflect.TypeOf(v).AssignableTo(rv.Elem().Type()) {
				rv.Elem().Set(reflect.ValueOf(v))
				return derefIfPointer(dst), true
			}
		}
	}

	if data, err := os.ReadFile(s.contentFallbackPath(key)); err == nil {
		if dst == nil {
			var v any
			if json.Unmarshal(data, &v) == nil {
				return v, true
			}
		} else if json.Unmarshal(data, dst) == nil {
			return derefIfPointer(dst), true
		}
	}

	return nil, false
}

// StoreContent persists content for key, trying the primary codec first
// and the fallback codec on failure. If both fail, any partial file is
// removed and content is simply not backed up — never a hard error.
func (s *Store) StoreContent(key string, content any) {
	s.cache.Add(key, entry{content: content})

	if err := os.MkdirAll(s.memDir(key), 0o700); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("backupstore: could not create directory, skipping backup")
		return
	}

	if buf, err := encodeGob(content); err == nil {
		if writeErr := os.WriteFile(s.contentPrimaryPath(key), buf, 0o600); writeErr == nil {
			os.Remove(s.contentFallbackPath(key))
			return
		}
	}
	_ = os.Remove(s.contentPrimaryPath(key))

	if buf, err := json.Marshal(content); err == nil {
		if writeErr := os.WriteFile(s.contentFallbackPath(key), buf, 0o600); writeErr == nil {
			return
		}
	}
	_ = os.Remove(s.contentFallbackPath(key))
	log.Warn().Str("key", key).Msg("backupstore: could not serialize content with either codec; backup skipped")
}

// StoreContentAndHash is the common-case call: persist content and its
// fingerprint together, and keep the front cache in sync.
func (s *Store) StoreContentAndHash(key string, content any, fp string) error {
	s.StoreContent(key, content)
	s.cache.Add(key, entry{content: content, fingerprint: fp})
	return s.StoreHash(key, fp)
}

// Register tells the primary codec (encoding/gob) about a concrete type
// that will be stored as memory content. gob requires every concrete type
// that crosses an interface{} boundary to be registered once per process;
// types a caller never registers simply fall through to the JSON codec.
func Register(value any) {
	gob.Register(value)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGobInto(data []byte, dst any) bool {
	defer func() { recover() }() // gob panics on some malformed streams
	return gob.NewDecoder(bytes.NewReader(data)).Decode(dst) == nil
}

func derefIfPointer(dst any) any {
	switch v := dst.(type) {
	case *any:
		return *v
	default:
		return dst
	}
}
