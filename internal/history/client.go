package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/worldland/miner-fleet/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000
)

var (
	// ErrDisabled indicates InfluxDB integration is disabled in config
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Client owns the InfluxDB connection and its non-blocking write API
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Connect creates a client for cfg and verifies the server answers a ping.
// onError receives asynchronous write failures and may be nil.
func Connect(cfg config.InfluxDBConfig, onError func(error)) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			if onError != nil {
				onError(err)
			}
		}
	}()

	return &Client{client: client, writeAPI: writeAPI}, nil
}

// WriteAPI returns the batching write API
func (c *Client) WriteAPI() api.WriteAPI {
	return c.writeAPI
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	c.writeAPI.Flush()
	c.client.Close()
}
