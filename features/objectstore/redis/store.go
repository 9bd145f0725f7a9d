// Package redis implements the object store on Redis hashes. Each object is
// stored under an org-scoped key holding the bytes, MIME type, and producing
// execution; presigned read URLs are HMAC-signed so they can be handed to
// browsers without exposing credentials.
package redis

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/flowmesh/flowrun/features/internal/retry"
	"github.com/flowmesh/flowrun/runtime/workflow/objectstore"
)

type (
	// Options configures the Redis object store.
	Options struct {
		// Redis is the Redis connection. Required.
		Redis *goredis.Client
		// BaseURL is the externally reachable prefix for presigned reads,
		// e.g. "https://api.example.com/objects". Required for PresignRead.
		BaseURL string
		// Secret signs presigned URLs. Required for PresignRead.
		Secret []byte
		// KeyPrefix namespaces object keys. Defaults to "flowrun:object".
		KeyPrefix string
		// Now overrides the clock for tests.
		Now func() time.Time
	}

	// Store is a Redis-backed objectstore.Store.
	Store struct {
		redis  *goredis.Client
		base   string
		secret []byte
		prefix string
		now    func() time.Time
	}
)

// Hash field names used per object key.
const (
	fieldData      = "data"
	fieldMime      = "mime"
	fieldExecution = "execution_id"
	fieldCreatedAt = "created_at"
)

// New constructs a Store. The Redis field in opts is required.
func New(opts Options) (*Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "flowrun:object"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		redis:  opts.Redis,
		base:   opts.BaseURL,
		secret: opts.Secret,
		prefix: prefix,
		now:    now,
	}, nil
}

// Put stores the bytes under a fresh unguessable id scoped to the
// organization and returns the id.
func (s *Store) Put(ctx context.Context, orgID string, data []byte, mimeType, executionID string) (string, error) {
	if orgID == "" {
		return "", errors.New("organization id is required")
	}
	if mimeType == "" {
		return "", errors.New("mime type is required")
	}
	id := uuid.NewString()
	fields := map[string]any{
		fieldData:      data,
		fieldMime:      mimeType,
		fieldCreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if executionID != "" {
		fields[fieldExecution] = executionID
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		return s.redis.HSet(ctx, s.key(orgID, id), fields).Err()
	})
	if err != nil {
		return "", fmt.Errorf("redis put object: %w", err)
	}
	return id, nil
}

// Get returns the bytes and MIME type for an object owned by the
// organization. Objects belonging to other organizations are indistinguishable
// from missing ones.
func (s *Store) Get(ctx context.Context, orgID, id string) ([]byte, string, error) {
	var data, mime string
	err := retry.Do(ctx, func(ctx context.Context) error {
		vals, err := s.redis.HMGet(ctx, s.key(orgID, id), fieldData, fieldMime).Result()
		if err != nil {
			return err
		}
		data, _ = vals[0].(string)
		mime, _ = vals[1].(string)
		if mime == "" {
			return retry.Permanent(objectstore.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("redis get object: %w", err)
	}
	return []byte(data), mime, nil
}

// PresignRead returns a time-limited signed URL granting read access to the
// object without further authentication.
func (s *Store) PresignRead(ctx context.Context, orgID, id string, ttl time.Duration) (string, error) {
	if s.base == "" || len(s.secret) == 0 {
		return "", errors.New("presigning is not configured")
	}
	if _, _, err := s.Get(ctx, orgID, id); err != nil {
		return "", err
	}
	exp := s.now().Add(ttl).UTC().Unix()
	sig := s.sign(orgID, id, exp)
	q := url.Values{}
	q.Set("org", orgID)
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)
	return fmt.Sprintf("%s/%s?%s", s.base, url.PathEscape(id), q.Encode()), nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, orgID, id string) error {
	return s.redis.Del(ctx, s.key(orgID, id)).Err()
}

// VerifySignature checks a presigned URL's signature and expiry. The HTTP
// layer calls this when serving unauthenticated object reads.
func (s *Store) VerifySignature(orgID, id, sig string, exp int64) bool {
	if s.now().UTC().Unix() > exp {
		return false
	}
	expected := s.sign(orgID, id, exp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

func (s *Store) sign(orgID, id string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", orgID, id, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) key(orgID, id string) string {
	return s.prefix + ":" + orgID + ":" + id
}
