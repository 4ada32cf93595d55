package qrlink

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	invitationRecordVersionV1 = 1
	// invitationTokenSuffix namespaces the url-token -> code index.
	invitationTokenSuffix = "t"
)

// errInvitationCollision reports a code or url-token uniqueness collision
// at creation. The engine retries with fresh values.
var errInvitationCollision = errors.New("invitation identifier collision")

// invitationStore persists invitations in Redis under the code key plus a
// url-token index. Records carry the link TTL so consumed and expired
// invitations age out naturally.
type invitationStore struct {
	redis  *redis.Client
	prefix string

	// retention added on top of the link window keeps terminal records
	// readable while an armed session window can still be running.
	retention time.Duration
}

func newInvitationStore(redisClient *redis.Client, prefix string, retention time.Duration) *invitationStore {
	return &invitationStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *invitationStore) codeKey(code string) string {
	return s.prefix + ":" + code
}

func (s *invitationStore) tokenKey(urlToken string) string {
	return s.prefix + invitationTokenSuffix + ":" + urlToken
}

func (s *invitationStore) ttl(inv *invitation, now time.Time) time.Duration {
	ttl := time.Unix(inv.ExpiresAt, 0).Sub(now) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	return ttl
}

// Create writes a new invitation, failing with errInvitationCollision when
// either the code or the url token is already taken. Both keys are claimed
// with SETNX so two concurrent creates can never share an identifier.
func (s *invitationStore) Create(ctx context.Context, inv *invitation, now time.Time) error {
	encoded, err := encodeInvitation(inv)
	if err != nil {
		return err
	}
	ttl := s.ttl(inv, now)

	ok, err := s.redis.SetNX(ctx, s.codeKey(inv.Code), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return errInvitationCollision
	}

	ok, err = s.redis.SetNX(ctx, s.tokenKey(inv.URLToken), inv.Code, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// Roll back the code claim so a retry starts clean.
		_ = s.redis.Del(ctx, s.codeKey(inv.Code)).Err()
		return errInvitationCollision
	}

	return nil
}

func (s *invitationStore) GetByCode(ctx context.Context, code string) (*invitation, error) {
	data, err := s.redis.Get(ctx, s.codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return decodeInvitation(data)
}

func (s *invitationStore) GetByURLToken(ctx context.Context, urlToken string) (*invitation, error) {
	code, err := s.redis.Get(ctx, s.tokenKey(urlToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return s.GetByCode(ctx, code)
}

// Mutate applies fn to the invitation under optimistic concurrency, with
// the same write-back contract as the session store.
func (s *invitationStore) Mutate(ctx context.Context, code string, fn func(inv *invitation) (bool, error)) (*invitation, error) {
	key := s.codeKey(code)

	for i := 0; i < storeMaxRetries; i++ {
		var result *invitation

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			inv, err := decodeInvitation(data)
			if err != nil {
				return err
			}

			write, fnErr := fn(inv)
			if !write {
				if fnErr != nil {
					return fnErr
				}
				result = inv
				return nil
			}

			encoded, err := encodeInvitation(inv)
			if err != nil {
				return err
			}

			ttl, err := tx.TTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = s.retention
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			result = inv
			return fnErr
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrInvitationNotFound
			case isDomainError(err):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		return result, nil
	}

	return nil, ErrInvitationNotFound
}

func encodeInvitation(inv *invitation) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(invitationRecordVersionV1)
	if inv.Used {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	for _, field := range []string{
		inv.Code, inv.PIN, inv.URLToken,
		inv.CreatedBy, inv.IntendedEmail, inv.IntendedName, inv.Notes,
	} {
		if err := writeString16(&buf, field); err != nil {
			return nil, err
		}
	}

	for _, ts := range []int64{
		inv.CreatedAt, inv.ExpiresAt,
		inv.SessionStartedAt, inv.SessionExpiresAt, inv.UsedAt,
	} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeInvitation(data []byte) (*invitation, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != invitationRecordVersionV1 {
		return nil, errors.New("invalid invitation record version")
	}

	used, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	inv := &invitation{Used: used == 1}

	for _, dst := range []*string{
		&inv.Code, &inv.PIN, &inv.URLToken,
		&inv.CreatedBy, &inv.IntendedEmail, &inv.IntendedName, &inv.Notes,
	} {
		s, err := readString16(reader)
		if err != nil {
			return nil, err
		}
		*dst = s
	}

	for _, dst := range []*int64{
		&inv.CreatedAt, &inv.ExpiresAt,
		&inv.SessionStartedAt, &inv.SessionExpiresAt, &inv.UsedAt,
	} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	if _, err := reader.ReadByte(); err != io.EOF {
		return nil, errors.New("trailing invitation record data")
	}

	return inv, nil
}
