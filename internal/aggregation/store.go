// Package aggregation keeps partial detector verdicts per transaction in a
// redis hash until the transaction is finalized.
package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "fraud:aggregate:"

	fieldBlacklistHit    = "blacklistHit"
	fieldBlacklistReason = "blacklistReason"
	fieldRuleScore       = "ruleScore"
	fieldRuleBand        = "ruleBand"
	fieldRuleMatches     = "ruleMatches"
	fieldRuleVersion     = "ruleVersion"
	fieldMlScore         = "mlScore"
	fieldModelVersion    = "modelVersion"
	fieldFeatures        = "featuresJson"
)

// Record holds whichever signals have arrived. Nil fields are absent.
type Record struct {
	BlacklistHit    *bool
	BlacklistReason *string
	RuleScore       *float64
	RuleBand        *string
	RuleMatches     []string
	RuleVersion     *int
	MlScore         *float64
	ModelVersion    *string
	Features        *events.FeatureSnapshot
}

// Store is the redis-backed aggregation store. Every write refreshes the TTL.
type Store struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, ttl time.Duration) *Store {
	return &Store{redis: redis, ttl: ttl}
}

// Upsert merges the non-nil fields of update into the record for txID.
func (s *Store) Upsert(ctx context.Context, txID string, update Record) error {
	fields, err := encode(update)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	key := Key(txID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert aggregation %s: %w", txID, err)
	}
	return nil
}

// Get returns the stored record, empty when nothing is stored.
func (s *Store) Get(ctx context.Context, txID string) (Record, error) {
	values, err := s.redis.HGetAll(ctx, Key(txID)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("read aggregation %s: %w", txID, err)
	}
	return decode(values), nil
}

// RuleBand returns the stored rule band or "" when none was stored.
func (s *Store) RuleBand(ctx context.Context, txID string) (string, error) {
	band, err := s.redis.HGet(ctx, Key(txID), fieldRuleBand).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read rule band %s: %w", txID, err)
	}
	return band, nil
}

func (s *Store) Delete(ctx context.Context, txID string) error {
	if err := s.redis.Del(ctx, Key(txID)).Err(); err != nil {
		return fmt.Errorf("delete aggregation %s: %w", txID, err)
	}
	return nil
}

func Key(txID string) string {
	return keyPrefix + txID
}

func encode(r Record) (map[string]any, error) {
	fields := make(map[string]any)
	if r.BlacklistHit != nil {
		fields[fieldBlacklistHit] = strconv.FormatBool(*r.BlacklistHit)
	}
	if r.BlacklistReason != nil {
		fields[fieldBlacklistReason] = *r.BlacklistReason
	}
	if r.RuleScore != nil {
		fields[fieldRuleScore] = strconv.FormatFloat(*r.RuleScore, 'f', -1, 64)
	}
	if r.RuleBand != nil {
		fields[fieldRuleBand] = *r.RuleBand
	}
	if r.RuleMatches != nil {
		raw, err := json.Marshal(r.RuleMatches)
		if err != nil {
			return nil, fmt.Errorf("encode rule matches: %w", err)
		}
		fields[fieldRuleMatches] = string(raw)
	}
	if r.RuleVersion != nil {
		fields[fieldRuleVersion] = strconv.Itoa(*r.RuleVersion)
	}
	if r.MlScore != nil {
		fields[fieldMlScore] = strconv.FormatFloat(*r.MlScore, 'f', -1, 64)
	}
	if r.ModelVersion != nil {
		fields[fieldModelVersion] = *r.ModelVersion
	}
	if !r.Features.IsEmpty() {
		raw, err := json.Marshal(r.Features)
		if err != nil {
			return nil, fmt.Errorf("encode features: %w", err)
		}
		fields[fieldFeatures] = string(raw)
	}
	return fields, nil
}

// decode never fails: unparseable fields are treated as absent.
func decode(values map[string]string) Record {
	var r Record
	if v, ok := values[fieldBlacklistHit]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			r.BlacklistHit = &b
		}
	}
	if v, ok := values[fieldBlacklistReason]; ok {
		r.BlacklistReason = &v
	}
	if v, ok := values[fieldRuleScore]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			r.RuleScore = &f
		}
	}
	if v, ok := values[fieldRuleBand]; ok {
		r.RuleBand = &v
	}
	if v, ok := values[fieldRuleMatches]; ok {
		var matches []string
		if err := json.Unmarshal([]byte(v), &matches); err == nil {
			r.RuleMatches = matches
		} else {
			zap.L().Warn("discarding unreadable rule matches", zap.Error(err))
		}
	}
	if v, ok := values[fieldRuleVersion]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			r.RuleVersion = &n
		}
	}
	if v, ok := values[fieldMlScore]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			r.MlScore = &f
		}
	}
	if v, ok := values[fieldModelVersion]; ok {
		r.ModelVersion = &v
	}
	if v, ok := values[fieldFeatures]; ok {
		var snap events.FeatureSnapshot
		if err := json.Unmarshal([]byte(v), &snap); err == nil {
			r.Features = &snap
		} else {
			zap.L().Warn("discarding unreadable feature snapshot", zap.Error(err))
		}
	}
	return r
}
