package memcache

import (
	"context"
	"sync"
)

// MultiGet retrieves several keys over a single leased Connection,
// submitting every request up front and letting the connection's FIFO
// waiter queue pipeline them rather than round-tripping once per key.
// Missing keys are simply absent from the result map.
func (c *Client) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	var mu sync.Mutex
	err := c.WithConnection(ctx, func(conn *Connection) error {
		var wg sync.WaitGroup
		errs := make([]error, len(keys))
		wg.Add(len(keys))
		for i, key := range keys {
			go func(i int, key string) {
				defer wg.Done()
				data, found, err := conn.Get(ctx, key)
				if err != nil {
					errs[i] = err
					return
				}
				if found {
					mu.Lock()
					results[key] = data
					mu.Unlock()
				}
			}(i, key)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	return results, nil
}

// MultiDelete removes several keys over a single leased Connection,
// pipelining the delete requests the same way MultiGet pipelines gets.
// A missing key is not treated as an error.
func (c *Client) MultiDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.WithConnection(ctx, func(conn *Connection) error {
		var wg sync.WaitGroup
		errs := make([]error, len(keys))
		wg.Add(len(keys))
		for i, key := range keys {
			go func(i int, key string) {
				defer wg.Done()
				err := conn.Delete(ctx, key)
				if _, notFound := err.(*KeyNotFoundError); notFound {
					err = nil
				}
				errs[i] = err
			}(i, key)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.stats.recordError()
	}
	return err
}
