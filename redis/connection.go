// Package redis dials the shared Redis client used for session presence
// (session.PostgresStore's presence hashes), read env-var-first the same
// way the teacher's redis/connection.go did for canvas presence.
package redis

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

// Connect dials Redis from REDIS_ADDR, or REDIS_HOST/REDIS_PORT, or
// localhost:6379 as a last resort.
func Connect() (*redis.Client, error) {
    // Try REDIS_ADDR first (for docker-compose compatibility)
    addr := os.Getenv("REDIS_ADDR")
    if addr == "" {
        // Fallback to individual host/port
        host := os.Getenv("REDIS_HOST")
        port := os.Getenv("REDIS_PORT")
        if host != "" && port != "" {
            addr = fmt.Sprintf("%s:%s", host, port)
        } else {
            addr = "localhost:6379" // Default
        }
    }
    
    password := os.Getenv("REDIS_PASSWORD")

    client := redis.NewClient(&redis.Options{
        Addr:     addr,
        Password: password,
        DB:       0,
    })

    return client, nil
}