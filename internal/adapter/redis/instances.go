package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey = "instances"
	activeWindow = 60 * time.Second
)

// InstanceRegistry advertises this process's origin tag in the shared
// "instances" hash. Entries without a heartbeat for 60s count as inactive.
type InstanceRegistry struct {
	rdb       *goredis.Client
	origin    string
	heartbeat time.Duration
	version   string
	clock     clockwork.Clock
}

type InstanceInfo struct {
	Origin    string `json:"origin"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	Channels  int    `json:"channels"`
}

// NewInstanceRegistry announces this process under origin every heartbeat
// once Run is called.
func NewInstanceRegistry(rdb *goredis.Client, origin string, heartbeat time.Duration, version string, clock clockwork.Clock) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:       rdb,
		origin:    origin,
		heartbeat: heartbeat,
		version:   version,
		clock:     clock,
	}
}

// Run registers immediately and then on every heartbeat, reporting the
// value of channels() each time. It unregisters and returns when ctx ends.
func (r *InstanceRegistry) Run(ctx context.Context, channels func() int) {
	r.register(ctx, channels())

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx, channels())
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context, channels int) {
	data, err := json.Marshal(InstanceInfo{
		Origin:    r.origin,
		Timestamp: r.clock.Now().Unix(),
		Version:   r.version,
		Channels:  channels,
	})
	if err != nil {
		return
	}

	if err := r.rdb.HSet(ctx, instancesKey, r.origin, data).Err(); err != nil {
		slog.WarnContext(ctx, "Instance heartbeat failed", "origin", r.origin, "error", err)
	}
}

func (r *InstanceRegistry) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.HDel(ctx, instancesKey, r.origin).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "origin", r.origin, "error", err)
	}
}

// Active returns instances with a heartbeat inside the activity window,
// ordered by origin.
func (r *InstanceRegistry) Active(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}

	now := r.clock.Now().Unix()
	infos := []InstanceInfo{}
	for _, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if now-info.Timestamp < int64(activeWindow/time.Second) {
			infos = append(infos, info)
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Origin < infos[j].Origin })
	return infos, nil
}
