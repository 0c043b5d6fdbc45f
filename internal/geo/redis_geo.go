package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// RedisIndex implements LocationIndex using Redis GEO commands so the
// Kafka consumer and the API server can share puller positions.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(id string, loc models.Coord) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: loc.Lng, Latitude: loc.Lat, Name: id}).Result()
	_ = r.client.HSet(r.ctx, metaKey(id), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisIndex) Get(id string) (models.Coord, bool) {
	res, err := r.client.GeoPos(r.ctx, r.key, id).Result()
	if err != nil || len(res) == 0 || res[0] == nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: res[0].Latitude, Lng: res[0].Longitude}, true
}

func metaKey(id string) string { return "puller:meta:" + id }
