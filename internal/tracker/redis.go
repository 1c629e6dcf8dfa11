package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"boardbot/internal/cache"
	"boardbot/internal/eventbus"
	"boardbot/internal/model"
	logx "boardbot/pkg/logx"
)

// Message is published on the events channel by whatever relays the tracker
// into redis.
type Message struct {
	Action string      `json:"action"`
	Issue  model.Issue `json:"issue"`
}

type RedisOptions struct {
	Prefix    string        // default "boardbot"
	CacheTime time.Duration // listing cache lifetime
}

// Redis reads a tracker mirrored into redis:
//   - <prefix>:issues:open    hash number -> issue JSON
//   - <prefix>:issues:closed  hash number -> issue JSON
//   - <prefix>:issues:events  pub/sub channel carrying Message JSON
type Redis struct {
	rdb    *redis.Client
	prefix string
	bus    eventbus.Bus
	log    logx.Logger

	open   *cache.Cache[[]model.Issue]
	closed *cache.Cache[[]model.Issue]

	subOnce    sync.Once
	subscribed chan struct{}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewRedis(rdb *redis.Client, opts RedisOptions, bus eventbus.Bus, log logx.Logger) *Redis {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "boardbot"
	}
	r := &Redis{
		rdb:        rdb,
		prefix:     prefix,
		bus:        bus,
		log:        log,
		subscribed: make(chan struct{}),
	}
	r.open = cache.New(func(ctx context.Context, _ []model.Issue) ([]model.Issue, error) {
		return r.load(ctx, r.key("open"), false)
	}, opts.CacheTime, cache.WithName("issues_open"))
	r.closed = cache.New(func(ctx context.Context, _ []model.Issue) ([]model.Issue, error) {
		return r.load(ctx, r.key("closed"), true)
	}, opts.CacheTime, cache.WithName("issues_closed"))
	return r
}

func (r *Redis) key(kind string) string { return r.prefix + ":issues:" + kind }

// Channel is the pub/sub channel Listen consumes.
func (r *Redis) Channel() string { return r.key("events") }

func (r *Redis) On(event string, fn func(model.Issue)) func() {
	return onBus(r.bus, event, fn)
}

func (r *Redis) Issues(ctx context.Context) ([]model.Issue, error) { return r.open.Get(ctx) }

func (r *Redis) ClosedIssues(ctx context.Context) ([]model.Issue, error) { return r.closed.Get(ctx) }

func (r *Redis) load(ctx context.Context, key string, closed bool) ([]model.Issue, error) {
	vals, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("tracker: read %s: %w", key, err)
	}
	m := make(map[int]model.Issue, len(vals))
	for field, raw := range vals {
		var is model.Issue
		if err := json.Unmarshal([]byte(raw), &is); err != nil {
			r.log.Warn("skipping undecodable issue", logx.String("key", key), logx.String("field", field), logx.Err(err))
			continue
		}
		if is.Number == 0 {
			is.Number, _ = strconv.Atoi(field)
		}
		is.Closed = closed
		m[is.Number] = is
	}
	return sortedIssues(m), nil
}

// Subscribed is closed once the first Listen call is subscribed to the channel.
func (r *Redis) Subscribed() <-chan struct{} { return r.subscribed }

// Listen forwards channel messages to On subscribers until ctx is done.
func (r *Redis) Listen(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.Channel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("tracker: subscribe %s: %w", r.Channel(), err)
	}
	r.subOnce.Do(func() { close(r.subscribed) })
	r.log.Info("tracker listening", logx.String("channel", r.Channel()))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("tracker: subscription %s closed", r.Channel())
			}
			r.dispatch(msg.Payload)
		}
	}
}

func (r *Redis) dispatch(payload string) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.Warn("undecodable tracker message", logx.Err(err))
		return
	}
	if err := validEvent(m.Action); err != nil {
		r.log.Warn("ignoring tracker message", logx.Err(err))
		return
	}
	m.Issue.Closed = m.Action == EventClosed
	r.open.Invalidate()
	r.closed.Invalidate()
	r.bus.Publish(eventbus.Event{Type: busEvent(m.Action), Data: m.Issue})
}

// Record mirrors an issue transition into redis and announces it on the channel.
func (r *Redis) Record(ctx context.Context, action string, issue model.Issue) error {
	if err := validEvent(action); err != nil {
		return err
	}
	issue.Closed = action == EventClosed
	raw, err := json.Marshal(issue)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Action: action, Issue: issue})
	if err != nil {
		return err
	}
	field := issue.Key()
	from, to := r.key("closed"), r.key("open")
	if issue.Closed {
		from, to = to, from
	}
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, from, field)
	pipe.HSet(ctx, to, field, raw)
	pipe.Publish(ctx, r.Channel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tracker: record issue #%d: %w", issue.Number, err)
	}
	return nil
}
