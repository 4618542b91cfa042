package redis

import (
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/opensyncparty/syncparty/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixInvite  string `koanf:"prefix_invite"`
	PrefixSession string `koanf:"prefix_session"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// AddInvite stores an invite token for a room with a TTL.
func (r *Redis) AddInvite(token, roomID string, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixInvite, token)
	_, err := c.Do("SETEX", key, int(ttl.Seconds()), roomID)
	return err
}

// InviteRoom resolves an invite token to its room.
func (r *Redis) InviteRoom(token string) (string, error) {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixInvite, token)
	roomID, err := redis.String(c.Do("GET", key))
	if err == redis.ErrNil {
		return "", store.ErrInviteNotFound
	}
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// RemoveInvite deletes an invite token.
func (r *Redis) RemoveInvite(token string) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixInvite, token)
	_, err := c.Do("DEL", key)
	return err
}

// AddSession records a client's presence in a room with a TTL.
func (r *Redis) AddSession(clientID, roomID string, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixSession, roomID)
	c.Send("HSET", key, clientID, time.Now().Add(ttl).Unix())
	c.Send("EXPIRE", key, int(ttl.Seconds()))
	return c.Flush()
}

// SessionExists checks if a client has a live presence session in a room.
func (r *Redis) SessionExists(clientID, roomID string) (bool, error) {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixSession, roomID)
	expire, err := redis.Int64(c.Do("HGET", key, clientID))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expire >= time.Now().Unix(), nil
}

// RemoveSession deletes a client's presence session.
func (r *Redis) RemoveSession(clientID, roomID string) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixSession, roomID)
	_, err := c.Do("HDEL", key, clientID)
	return err
}

// ClearSessions deletes all the sessions of a room.
func (r *Redis) ClearSessions(roomID string) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixSession, roomID)
	_, err := c.Do("DEL", key)
	return err
}
