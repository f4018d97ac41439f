// Package progress implements the Progress Service bounded context
// (spec.md §4.6): a non-durable, best-effort publish/subscribe mechanism
// keyed by uploadId. Subscribers are long-poll/SSE channels; delivery to a
// subscriber that isn't listening is silently dropped, matching spec.md's
// "if no subscriber exists, progress is dropped" rule.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

const subscriberBufferSize = 32

// Service implements core.ProgressPublisher plus the subscriber-side API
// SSE handlers in web/ use. The Redis-backed last-percentage map is a
// supplemented, off-by-default feature (SPEC_FULL.md §8): it lets a second
// pkd-server replica's subscribers resume from the correct percentage
// instead of 0, without changing the in-process fan-out's single-process
// semantics when Redis isn't configured.
type Service struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan core.ProgressUpdate
	next uint64

	redis *redis.Client

	log   blog.Logger
	stats metrics.Scope
}

// NewService builds a Service. redisAddr empty disables the shared
// last-percentage map; the in-process fan-out always works regardless.
func NewService(redisAddr string, log blog.Logger, stats metrics.Scope) *Service {
	s := &Service{
		subs:  make(map[string]map[uint64]chan core.ProgressUpdate),
		log:   log,
		stats: stats.NewScope("progress"),
	}
	if redisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return s
}

// SendProgress implements core.ProgressPublisher. It fans the update out
// to every current subscriber of update.UploadID without blocking: a
// subscriber whose buffer is full misses the update, per spec.md §4.6's
// best-effort delivery rule.
func (s *Service) SendProgress(update core.ProgressUpdate) {
	s.mu.RLock()
	subscribers := s.subs[update.UploadID]
	chans := make([]chan core.ProgressUpdate, 0, len(subscribers))
	for _, ch := range subscribers {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	s.stats.Inc(fmt.Sprintf("stage.%s", update.Stage), 1)
	delivered := 0
	for _, ch := range chans {
		select {
		case ch <- update:
			delivered++
		default:
			s.stats.Inc("dropped", 1)
		}
	}
	if len(chans) == 0 {
		s.stats.Inc("no_subscriber", 1)
	}

	if s.redis != nil {
		s.storeLastPercentage(update)
	}
}

func (s *Service) storeLastPercentage(update core.ProgressUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := redisKey(update.UploadID)
	if err := s.redis.Set(ctx, key, update.Percentage, time.Hour).Err(); err != nil {
		s.log.AuditErr(fmt.Sprintf("progress: storing last percentage for %s in redis: %s", update.UploadID, err))
	}
}

// LastPercentage returns the most recently stored percentage for uploadID
// from the shared Redis map, if one is configured and a value exists.
func (s *Service) LastPercentage(ctx context.Context, uploadID string) (int, bool, error) {
	if s.redis == nil {
		return 0, false, nil
	}
	val, err := s.redis.Get(ctx, redisKey(uploadID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Subscribe registers a channel for uploadID's progress updates and
// returns it along with an unsubscribe function the caller must invoke
// when done (e.g. on SSE client disconnect, per spec.md §5's "subscribers
// may disconnect from progress at any time").
func (s *Service) Subscribe(uploadID string) (<-chan core.ProgressUpdate, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[uploadID] == nil {
		s.subs[uploadID] = make(map[uint64]chan core.ProgressUpdate)
	}
	ch := make(chan core.ProgressUpdate, subscriberBufferSize)
	s.subs[uploadID][id] = ch
	s.mu.Unlock()

	s.stats.Inc("subscribed", 1)
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subs[uploadID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.subs, uploadID)
			}
		}
		close(ch)
		s.stats.Inc("unsubscribed", 1)
	}
	return ch, cancel
}

func redisKey(uploadID string) string {
	return "pkd:progress:" + uploadID
}
