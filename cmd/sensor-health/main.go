// Command sensor-health probes the backing services a sensor deployment
// depends on (Redis cooldown store, Postgres audit log, ClickHouse
// archive, NATS transport) and reports readiness for a deploy/rollout
// gate.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	Green = "\033[32m"
	Red   = "\033[31m"
	Reset = "\033[0m"
)

func main() {
	fmt.Println("sensor-health: backing service check")
	fmt.Println("=====================================")

	overall := true
	checks := []struct {
		name string
		fn   func() bool
	}{
		{"Redis", checkRedis},
		{"PostgreSQL", checkPostgres},
		{"ClickHouse", checkClickHouse},
		{"NATS JetStream", checkNATS},
	}

	for _, c := range checks {
		up := c.fn()
		printStatus(c.name, up)
		overall = overall && up
	}

	fmt.Println("=====================================")
	if overall {
		fmt.Printf("%sready%s\n", Green, Reset)
		os.Exit(0)
	}
	fmt.Printf("%snot ready%s\n", Red, Reset)
	os.Exit(1)
}

func printStatus(service string, up bool) {
	if up {
		fmt.Printf("[%sOK%s]   %s\n", Green, Reset, service)
		return
	}
	fmt.Printf("[%sFAIL%s] %s\n", Red, Reset, service)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func checkRedis() bool {
	client := redis.NewClient(&redis.Options{
		Addr:     getEnv("SAKIN_SENSOR_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("SAKIN_SENSOR_REDIS_PASSWORD", ""),
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

func checkPostgres() bool {
	dsn := fmt.Sprintf("host=%s port=5432 user=%s password=%s dbname=%s sslmode=disable",
		getEnv("SAKIN_SENSOR_POSTGRES_HOST", "localhost"),
		getEnv("SAKIN_SENSOR_POSTGRES_USER", "sakin"),
		getEnv("SAKIN_SENSOR_POSTGRES_PASSWORD", ""),
		getEnv("SAKIN_SENSOR_POSTGRES_DATABASE", "sakin_sensor"))

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return false
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return db.PingContext(ctx) == nil
}

func checkClickHouse() bool {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{getEnv("SAKIN_SENSOR_CLICKHOUSE_ADDR", "localhost:9000")},
		Auth: clickhouse.Auth{
			Database: getEnv("SAKIN_SENSOR_CLICKHOUSE_DATABASE", "default"),
			Username: getEnv("SAKIN_SENSOR_CLICKHOUSE_USER", "default"),
		},
	})
	if err != nil {
		return false
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return conn.Ping(ctx) == nil
}

func checkNATS() bool {
	nc, err := nats.Connect(getEnv("SAKIN_SENSOR_NATS_URL", "nats://localhost:4222"),
		nats.ReconnectWait(100*time.Millisecond), nats.MaxReconnects(1))
	if err != nil {
		return false
	}
	defer nc.Close()
	return nc.IsConnected()
}
