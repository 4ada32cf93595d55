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
	qrRecordVersionV1 = 1
	// qrPatternSuffix namespaces the pattern -> token index under the
	// session prefix.
	qrPatternSuffix = "p"

	storeMaxRetries = 4
)

// qrSessionStore persists QR sessions in Redis. Each session is written
// under two keys: the token key holding the encoded record and a pattern
// index key resolving the rendered pattern back to the token. Both carry
// the same retention TTL so the index can never outlive the record.
type qrSessionStore struct {
	redis  *redis.Client
	prefix string

	// retention covers the full session lifecycle including the PIN and
	// lockout windows, so terminal records stay readable for diagnostics.
	retention time.Duration
}

func newQRSessionStore(redisClient *redis.Client, prefix string, retention time.Duration) *qrSessionStore {
	return &qrSessionStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *qrSessionStore) tokenKey(token string) string {
	return s.prefix + ":" + token
}

func (s *qrSessionStore) patternKey(pattern string) string {
	return s.prefix + qrPatternSuffix + ":" + pattern
}

func (s *qrSessionStore) Save(ctx context.Context, sess *qrSession) error {
	encoded, err := encodeQRSession(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(sess.Token), encoded, s.retention)
		pipe.Set(ctx, s.patternKey(sess.pattern()), sess.Token, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}

func (s *qrSessionStore) GetByToken(ctx context.Context, token string) (*qrSession, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return decodeQRSession(data)
}

// GetByPattern resolves the pattern index and loads the session. A dangling
// index entry is treated as not found.
func (s *qrSessionStore) GetByPattern(ctx context.Context, pattern string) (*qrSession, error) {
	token, err := s.redis.Get(ctx, s.patternKey(pattern)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return s.GetByToken(ctx, token)
}

// Mutate applies fn to the session under optimistic concurrency. fn returns
// whether the (possibly modified) record should be written back; a returned
// error surfaces unchanged. When fn reports write=true together with an
// error, the record is still written before the error is returned, so
// failed-attempt counters and lazy expiry transitions persist. The record
// seen by fn is re-read on every retry, so concurrent writers cannot
// interleave between the read and the write.
func (s *qrSessionStore) Mutate(ctx context.Context, token string, fn func(sess *qrSession) (bool, error)) (*qrSession, error) {
	key := s.tokenKey(token)

	for i := 0; i < storeMaxRetries; i++ {
		var result *qrSession

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			sess, err := decodeQRSession(data)
			if err != nil {
				return err
			}

			write, fnErr := fn(sess)
			if !write {
				if fnErr != nil {
					return fnErr
				}
				result = sess
				return nil
			}

			encoded, err := encodeQRSession(sess)
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

			result = sess
			return fnErr
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrSessionNotFound
			case isDomainError(err):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		return result, nil
	}

	return nil, ErrSessionNotFound
}

// isDomainError reports whether err is one of the package's sentinel-backed
// errors and must pass through store wrapping untouched.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrSessionNotFound, ErrInvalidPattern, ErrSessionExpired,
		ErrAlreadyScanned, ErrAlreadyVerified, ErrNotScanned,
		ErrPinExpired, ErrPinInvalid, ErrPinLocked,
		ErrInvitationNotFound, ErrInvitationUsed,
		ErrInvitationLinkExpired, ErrInvitationSessionExpired,
		ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func encodeQRSession(sess *qrSession) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(qrRecordVersionV1)
	buf.WriteByte(byte(sess.Status))

	for _, field := range []string{
		sess.Token, sess.ServiceID, sess.Code, sess.PIN, sess.UserID,
		sess.ClientIP, sess.ScannerIP, sess.VerifierIP,
	} {
		if err := writeString16(&buf, field); err != nil {
			return nil, err
		}
	}

	if len(sess.HiddenIndices) > 65535 {
		return nil, errors.New("hidden index set too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(sess.HiddenIndices))); err != nil {
		return nil, err
	}
	for _, idx := range sess.HiddenIndices {
		if idx < 0 || idx > 65535 {
			return nil, errors.New("hidden index out of range")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(idx)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, sess.PinAttempts); err != nil {
		return nil, err
	}

	for _, ts := range []int64{
		sess.CreatedAt, sess.ExpiresAt, sess.ScannedAt,
		sess.PinExpiresAt, sess.LockedUntil, sess.CompletedAt,
	} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	if len(sess.DeviceInfo) > 65535 {
		return nil, errors.New("device info too large")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(sess.DeviceInfo))); err != nil {
		return nil, err
	}
	for k, v := range sess.DeviceInfo {
		if err := writeString16(&buf, k); err != nil {
			return nil, err
		}
		if err := writeString16(&buf, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeQRSession(data []byte) (*qrSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != qrRecordVersionV1 {
		return nil, errors.New("invalid qr session record version")
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	sess := &qrSession{Status: SessionStatus(status)}

	for _, dst := range []*string{
		&sess.Token, &sess.ServiceID, &sess.Code, &sess.PIN, &sess.UserID,
		&sess.ClientIP, &sess.ScannerIP, &sess.VerifierIP,
	} {
		s, err := readString16(reader)
		if err != nil {
			return nil, err
		}
		*dst = s
	}

	var hiddenCount uint16
	if err := binary.Read(reader, binary.BigEndian, &hiddenCount); err != nil {
		return nil, err
	}
	if hiddenCount > 0 {
		sess.HiddenIndices = make([]int, hiddenCount)
		for i := range sess.HiddenIndices {
			var idx uint16
			if err := binary.Read(reader, binary.BigEndian, &idx); err != nil {
				return nil, err
			}
			sess.HiddenIndices[i] = int(idx)
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &sess.PinAttempts); err != nil {
		return nil, err
	}

	for _, dst := range []*int64{
		&sess.CreatedAt, &sess.ExpiresAt, &sess.ScannedAt,
		&sess.PinExpiresAt, &sess.LockedUntil, &sess.CompletedAt,
	} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	var infoCount uint16
	if err := binary.Read(reader, binary.BigEndian, &infoCount); err != nil {
		return nil, err
	}
	if infoCount > 0 {
		sess.DeviceInfo = make(map[string]string, infoCount)
		for i := 0; i < int(infoCount); i++ {
			k, err := readString16(reader)
			if err != nil {
				return nil, err
			}
			v, err := readString16(reader)
			if err != nil {
				return nil, err
			}
			sess.DeviceInfo[k] = v
		}
	}

	return sess, nil
}

func writeString16(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("string field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
