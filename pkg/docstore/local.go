package docstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/scribe/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// objectMeta is the bbolt-indexed record for one object. Object bytes
// live on disk; bbolt exists purely so List/Exists don't need a
// directory walk, mirroring the teacher's BoltStore precedent
// (pkg/storage/boltdb.go) of keeping one bucket of JSON-encoded records
// keyed by id.
type objectMeta struct {
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	ModTime     time.Time `json:"mod_time"`
}

// LocalProvider is a filesystem-backed Capability, suitable for
// single-process/dev deployments. Presigned URLs are HMAC-signed local
// URLs, checked with VerifyToken and served by pkg/dochttp's /local-blob
// handlers, since there is no external object-store vendor to mint a
// vendor URL from.
type LocalProvider struct {
	dataDir      string
	globalPrefix string
	db           *bolt.DB
	signer       *urlSigner
	publicBase   string // e.g. "http://localhost:8080/local-blob"
}

// LocalConfig configures a LocalProvider.
type LocalConfig struct {
	DataDir      string
	GlobalPrefix string
	PublicBase   string
	// Secret signs presigned URL tokens. If nil, a random secret is
	// generated (valid only for this process's lifetime, so presigned
	// URLs won't survive a restart — fine for dev, not for production).
	Secret []byte
}

// NewLocalProvider creates a filesystem-backed Capability rooted at
// cfg.DataDir, creating it and its bbolt index if absent.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "index.bolt")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create object bucket: %w", err)
	}

	secret := cfg.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to generate url signing secret: %w", err)
		}
	}

	return &LocalProvider{
		dataDir:      cfg.DataDir,
		globalPrefix: cfg.GlobalPrefix,
		db:           db,
		signer:       newURLSigner(secret),
		publicBase:   strings.TrimRight(cfg.PublicBase, "/"),
	}, nil
}

// Close releases the bbolt index.
func (p *LocalProvider) Close() error {
	return p.db.Close()
}

func (p *LocalProvider) fullKey(key string) string {
	return joinKey(p.globalPrefix, key)
}

func (p *LocalProvider) path(fullKey string) (string, error) {
	if strings.Contains(fullKey, "..") {
		return "", fmt.Errorf("invalid key %q", fullKey)
	}
	return filepath.Join(p.dataDir, "objects", filepath.FromSlash(fullKey)), nil
}

func (p *LocalProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fullKey := p.fullKey(key)
	var meta *objectMeta
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get([]byte(fullKey))
		if v == nil {
			return nil
		}
		var m objectMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		meta = &m
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("docstore: get %q: %w", key, err)
	}
	if meta == nil {
		return nil, false, nil
	}

	path, err := p.path(fullKey)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("docstore: get %q: %w", key, err)
	}
	return data, true, nil
}

func (p *LocalProvider) Put(ctx context.Context, key string, data []byte) error {
	fullKey := p.fullKey(key)
	path, err := p.path(fullKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("docstore: put %q: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("docstore: put %q: %w", key, err)
	}

	meta := objectMeta{Size: int64(len(data)), ModTime: time.Now()}
	buf, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Put([]byte(fullKey), buf)
	})
}

func (p *LocalProvider) Remove(ctx context.Context, key string) error {
	fullKey := p.fullKey(key)
	path, err := p.path(fullKey)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("docstore: remove %q: %w", key, err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete([]byte(fullKey))
	})
}

func (p *LocalProvider) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := p.fullKey(key)
	var found bool
	err := p.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketObjects).Get([]byte(fullKey)) != nil
		return nil
	})
	return found, err
}

func (p *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := normalizePrefix(prefix)
	fullPrefix := p.fullKey(listPrefix)

	var keys []string
	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		prefixBytes := []byte(fullPrefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), fullPrefix); k, _ = c.Next() {
			keys = append(keys, strings.TrimPrefix(string(k), fullPrefix))
		}
		return nil
	})
	return keys, err
}

func (p *LocalProvider) PresignUpload(ctx context.Context, key string, contentType string) (string, error) {
	return p.presignedURL(key, "PUT", types.UploadURLTTL)
}

func (p *LocalProvider) PresignDownload(ctx context.Context, key string) (string, error) {
	return p.presignedURL(key, "GET", types.DownloadURLTTL)
}

func (p *LocalProvider) presignedURL(key, method string, ttl time.Duration) (string, error) {
	fullKey := p.fullKey(key)
	expiresAt := time.Now().Add(ttl)
	token := p.signer.sign(fullKey, expiresAt)

	q := url.Values{}
	q.Set("key", key)
	q.Set("method", method)
	q.Set("token", token)
	return fmt.Sprintf("%s?%s", p.publicBase, q.Encode()), nil
}

// VerifyToken checks a token minted by PresignUpload/PresignDownload. The
// (out-of-core) HTTP surface calls this before serving a GET/PUT against
// /local-blob.
func (p *LocalProvider) VerifyToken(key, token string) error {
	return p.signer.verify(p.fullKey(key), token)
}

func (p *LocalProvider) CopyDocument(ctx context.Context, srcID, dstID string) error {
	srcPrefix := normalizePrefix(srcID + "/")
	suffixes, err := p.List(ctx, srcPrefix)
	if err != nil {
		return fmt.Errorf("docstore: copy_document list %q: %w", srcID, err)
	}
	for _, suffix := range suffixes {
		data, ok, err := p.Get(ctx, srcPrefix+suffix)
		if err != nil {
			return fmt.Errorf("docstore: copy_document read %q: %w", suffix, err)
		}
		if !ok {
			continue
		}
		dstKey := normalizePrefix(dstID+"/") + suffix
		if err := p.Put(ctx, dstKey, data); err != nil {
			return fmt.Errorf("docstore: copy_document write %q: %w", dstKey, err)
		}
	}
	return nil
}

func (p *LocalProvider) CheckStore(ctx context.Context) error {
	probeKey := ".scribe-check/" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := p.Put(ctx, probeKey, []byte("ok")); err != nil {
		return fmt.Errorf("docstore: check_store put: %w", err)
	}
	if _, ok, err := p.Get(ctx, probeKey); err != nil || !ok {
		return fmt.Errorf("docstore: check_store get: ok=%v err=%w", ok, err)
	}
	return p.Remove(ctx, probeKey)
}
