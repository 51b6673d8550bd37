package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	metacache "github.com/pior/metacache"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:11211", "memcached address")
	flag.Parse()

	fmt.Println("Metacache CLI")
	fmt.Println("=============")
	fmt.Println("Commands: get <key>, set <key> <value> [ttl], delete <key>, multi-get <key1> <key2> ..., stats, ping, quit")
	fmt.Println()

	client, err := metacache.NewClient(metacache.Config{
		Dialer: metacache.NetDialer(*addr, 2*time.Second),
	})
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	if err := client.Run(); err != nil {
		fmt.Printf("Failed to start client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])
		ctx := context.Background()

		switch command {
		case "get":
			if len(parts) != 2 {
				fmt.Println("Usage: get <key>")
				continue
			}
			handleGet(ctx, client, parts[1])

		case "set":
			if len(parts) < 3 || len(parts) > 4 {
				fmt.Println("Usage: set <key> <value> [ttl_seconds]")
				continue
			}
			ttl := time.Duration(0)
			if len(parts) == 4 {
				ttlSecs, err := strconv.Atoi(parts[3])
				if err != nil {
					fmt.Printf("Invalid TTL: %v\n", err)
					continue
				}
				ttl = time.Duration(ttlSecs) * time.Second
			}
			handleSet(ctx, client, parts[1], parts[2], ttl)

		case "delete", "del":
			if len(parts) != 2 {
				fmt.Println("Usage: delete <key>")
				continue
			}
			handleDelete(ctx, client, parts[1])

		case "multi-get", "mget":
			if len(parts) < 2 {
				fmt.Println("Usage: multi-get <key1> <key2> ...")
				continue
			}
			handleMultiGet(ctx, client, parts[1:])

		case "stats":
			handleStats(client)

		case "ping":
			handlePing(ctx, client)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  get <key>                 - Get a value by key")
			fmt.Println("  set <key> <value> [ttl]   - Set a key-value pair with optional TTL")
			fmt.Println("  delete <key>              - Delete a key")
			fmt.Println("  multi-get <key1> <key2>   - Get multiple keys at once")
			fmt.Println("  stats                     - Show client and pool statistics")
			fmt.Println("  ping                      - Check connectivity with a no-op")
			fmt.Println("  quit                      - Exit the CLI")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func handleGet(ctx context.Context, client *metacache.Client, key string) {
	start := time.Now()
	data, found, err := client.Get(ctx, key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if !found {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	fmt.Printf("Value: %s (took %v)\n", string(data), duration)
}

func handleSet(ctx context.Context, client *metacache.Client, key, value string, ttl time.Duration) {
	start := time.Now()
	err := client.Set(ctx, key, []byte(value), ttl)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Stored successfully (took %v)\n", duration)
}

func handleDelete(ctx context.Context, client *metacache.Client, key string) {
	start := time.Now()
	err := client.Delete(ctx, key)
	duration := time.Since(start)

	if err != nil {
		var notFound *metacache.KeyNotFoundError
		if errors.As(err, &notFound) {
			fmt.Printf("Key not found (took %v)\n", duration)
			return
		}
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Delete successful (took %v)\n", duration)
}

func handleMultiGet(ctx context.Context, client *metacache.Client, keys []string) {
	start := time.Now()
	results, err := client.MultiGet(ctx, keys)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}

	for _, key := range keys {
		if data, ok := results[key]; ok {
			fmt.Printf("  %s: %s\n", key, string(data))
		} else {
			fmt.Printf("  %s: <not found>\n", key)
		}
	}
	fmt.Printf("Retrieved %d out of %d keys (took %v)\n", len(results), len(keys), duration)
}

func handleStats(client *metacache.Client) {
	stats := client.Stats()
	pool := client.PoolStats()

	fmt.Println("Client Statistics:")
	fmt.Printf("  Gets: %d (hits: %d)\n", stats.Gets, stats.GetHits)
	fmt.Printf("  Sets: %d  Adds: %d  Deletes: %d\n", stats.Sets, stats.Adds, stats.Deletes)
	fmt.Printf("  Increments: %d  Decrements: %d\n", stats.Increments, stats.Decrements)
	fmt.Printf("  Errors: %d\n", stats.Errors)
	fmt.Println("Pool Statistics:")
	fmt.Printf("  Live: %d  Idle: %d  Leased: %d  Waiters: %d  Acquired: %d\n",
		pool.Live, pool.Idle, pool.Leased, pool.Waiters, pool.Acquired)
}

func handlePing(ctx context.Context, client *metacache.Client) {
	start := time.Now()
	err := client.WithConnection(ctx, func(conn *metacache.Connection) error {
		return conn.NoOp(ctx)
	})
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Ping failed: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Ping successful (took %v)\n", duration)
}
