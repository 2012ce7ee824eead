// Package sessions persists open tracking sessions in Redis so a crashed
// process can reconcile them at startup.
package sessions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// keyPrefix namespaces the per-guild session hashes. Fields are user ids,
// values are JSON-encoded records.
const keyPrefix = "sessions:"

// Record is the durable image of one open tracking session.
type Record struct {
	GuildID   uint64    `json:"guildId"`
	UserID    uint64    `json:"userId"`
	ChannelID uint64    `json:"channelId"`
	StartedAt time.Time `json:"startedAt"`
}

// Store reads and writes crash-recovery session records.
type Store struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewStore creates a session store backed by the given Redis client.
func NewStore(client rueidis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.Named("session_store"),
	}
}

func guildKey(guildID uint64) string {
	return keyPrefix + strconv.FormatUint(guildID, 10)
}

// Put writes or replaces the record for (guild, user).
func (s *Store) Put(ctx context.Context, record *Record) error {
	payload, err := sonic.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	err = s.client.Do(ctx, s.client.B().Hset().
		Key(guildKey(record.GuildID)).
		FieldValue().
		FieldValue(strconv.FormatUint(record.UserID, 10), string(payload)).
		Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}

	return nil
}

// Get returns the record for (guild, user), or nil when none exists.
func (s *Store) Get(ctx context.Context, guildID, userID uint64) (*Record, error) {
	resp := s.client.Do(ctx, s.client.B().Hget().
		Key(guildKey(guildID)).
		Field(strconv.FormatUint(userID, 10)).
		Build(),
	)
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil //nolint:nilnil
		}

		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	payload, err := resp.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	record := new(Record)
	if err := sonic.Unmarshal([]byte(payload), record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}

	return record, nil
}

// Delete removes the record for (guild, user). Deleting a missing record is
// not an error.
func (s *Store) Delete(ctx context.Context, guildID, userID uint64) error {
	err := s.client.Do(ctx, s.client.B().Hdel().
		Key(guildKey(guildID)).
		Field(strconv.FormatUint(userID, 10)).
		Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	return nil
}

// All returns every record persisted for a guild, keyed by user id.
func (s *Store) All(ctx context.Context, guildID uint64) (map[uint64]*Record, error) {
	entries, err := s.client.Do(ctx, s.client.B().Hgetall().
		Key(guildKey(guildID)).
		Build(),
	).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	records := make(map[uint64]*Record, len(entries))

	for field, payload := range entries {
		userID, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			s.logger.Warn("Skipping malformed session field", zap.String("field", field))
			continue
		}

		record := new(Record)
		if err := sonic.Unmarshal([]byte(payload), record); err != nil {
			s.logger.Warn("Skipping malformed session record",
				zap.Uint64("guildID", guildID),
				zap.Uint64("userID", userID),
				zap.Error(err))

			continue
		}

		records[userID] = record
	}

	return records, nil
}
