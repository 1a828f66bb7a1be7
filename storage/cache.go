package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskflow-api/domain"
)

// UserCache wraps a UserStore with Redis-backed caching for read operations.
// User records change rarely but are resolved on every task read, so they are
// the one hot spot worth caching.
type UserCache struct {
	base  domain.UserStore
	redis *redis.Client
	ttl   time.Duration
}

// NewUserCache creates a caching UserStore wrapper using the provided Redis
// client and TTL.
func NewUserCache(base domain.UserStore, client *redis.Client, ttl time.Duration) *UserCache {
	if base == nil {
		panic("storage.NewUserCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &UserCache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

// cachedUser is the cache wire form. The domain type hides the password hash
// from JSON output, so the cache carries it explicitly to keep round-trips
// lossless.
type cachedUser struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"passwordHash"`
	Role         domain.Role `json:"role"`
	IsDeleted    bool        `json:"isDeleted"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func toCached(u domain.User) cachedUser {
	return cachedUser{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		IsDeleted:    u.IsDeleted,
		CreatedAt:    u.CreatedAt,
	}
}

func (c cachedUser) toDomain() domain.User {
	return domain.User{
		ID:           c.ID,
		Name:         c.Name,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
		Role:         c.Role,
		IsDeleted:    c.IsDeleted,
		CreatedAt:    c.CreatedAt,
	}
}

func (c *UserCache) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := c.loadUserFromCache(ctx, id); ok {
		return u, nil
	}

	u, err := c.base.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u != nil {
		c.storeUser(ctx, *u)
	}
	return u, nil
}

func (c *UserCache) ListUsers(ctx context.Context) ([]domain.User, error) {
	if users, ok := c.loadListFromCache(ctx); ok {
		return users, nil
	}

	users, err := c.base.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	c.storeList(ctx, users)
	return users, nil
}

// FindUserByEmail always hits the backing store; the lookup only happens on
// user creation and must see the latest records.
func (c *UserCache) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return c.base.FindUserByEmail(ctx, email)
}

func (c *UserCache) InsertUser(ctx context.Context, u domain.User) error {
	if err := c.base.InsertUser(ctx, u); err != nil {
		return err
	}
	c.evict(ctx, u.ID)
	return nil
}

func (c *UserCache) UpdateUser(ctx context.Context, u domain.User) error {
	if err := c.base.UpdateUser(ctx, u); err != nil {
		return err
	}
	c.evict(ctx, u.ID)
	return nil
}

func (c *UserCache) loadUserFromCache(ctx context.Context, id string) (*domain.User, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, userCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, userCacheKey(id)).Err()
		}
		return nil, false
	}
	var cu cachedUser
	if err := json.Unmarshal(data, &cu); err != nil {
		_ = c.redis.Del(ctx, userCacheKey(id)).Err()
		return nil, false
	}
	u := cu.toDomain()
	return &u, true
}

func (c *UserCache) loadListFromCache(ctx context.Context) ([]domain.User, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, userListCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, userListCacheKey).Err()
		}
		return nil, false
	}
	var cached []cachedUser
	if err := json.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, userListCacheKey).Err()
		return nil, false
	}
	users := make([]domain.User, 0, len(cached))
	for _, cu := range cached {
		users = append(users, cu.toDomain())
	}
	return users, true
}

func (c *UserCache) storeUser(ctx context.Context, u domain.User) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(toCached(u))
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, userCacheKey(u.ID), data, c.ttl).Err()
}

func (c *UserCache) storeList(ctx context.Context, users []domain.User) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	cached := make([]cachedUser, 0, len(users))
	for _, u := range users {
		cached = append(cached, toCached(u))
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, userListCacheKey, data, c.ttl).Err()
}

func (c *UserCache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, userCacheKey(id), userListCacheKey).Result()
}

const userListCacheKey = "users:all"

func userCacheKey(id string) string {
	return "user:" + id
}
