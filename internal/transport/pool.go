// Package transport implements the storage-node HTTP client: a pooled,
// keep-alive user agent used for ranged GET/PUT against storage-node URLs.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Pool manages a bounded set of *http.Client connections to storage-node
// origins. Unlike a generic worker pool, every client in the pool shares the
// same underlying *http.Transport (and therefore its keep-alive connection
// cache); the pool exists to bound how many concurrent in-flight requests a
// mount issues, not to avoid TCP handshakes.
type Pool struct {
	mu          sync.RWMutex
	connections chan *http.Client
	factory     func() (*http.Client, error)
	maxSize     int
	currentSize int
	closed      bool

	healthCheck *HealthChecker

	stats PoolStats
}

// PoolStats tracks connection pool statistics.
type PoolStats struct {
	Active      int       `json:"active"`
	Idle        int       `json:"idle"`
	Total       int       `json:"total"`
	MaxSize     int       `json:"max_size"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Timeouts    int64     `json:"timeouts"`
	Errors      int64     `json:"errors"`
	Created     int64     `json:"created"`
	Destroyed   int64     `json:"destroyed"`
	LastCreated time.Time `json:"last_created"`
	LastError   string    `json:"last_error"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// HealthChecker periodically sends a HEAD request to probeURL through one
// pooled client, recording a failure in the pool's error stats.
type HealthChecker struct {
	pool     *Pool
	probeURL string
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewPool creates a connection pool of maxSize *http.Client instances, all
// backed by the same idleTimeout/maxIdlePerHost transport, optionally health
// checked against probeURL (empty disables health checking).
func NewPool(maxSize int, idleTimeout time.Duration, maxIdlePerHost int, probeURL string) (*Pool, error) {
	if maxSize <= 0 {
		maxSize = 8
	}

	transport := &http.Transport{
		MaxIdleConns:        maxSize * maxIdlePerHost,
		MaxIdleConnsPerHost: maxIdlePerHost,
		IdleConnTimeout:     idleTimeout,
	}

	factory := func() (*http.Client, error) {
		return &http.Client{Transport: transport}, nil
	}

	pool := &Pool{
		connections: make(chan *http.Client, maxSize),
		factory:     factory,
		maxSize:     maxSize,
		stats:       PoolStats{MaxSize: maxSize},
	}

	if probeURL != "" {
		pool.healthCheck = &HealthChecker{
			pool:     pool,
			probeURL: probeURL,
			interval: 30 * time.Second,
			timeout:  5 * time.Second,
			stopCh:   make(chan struct{}),
			stopped:  make(chan struct{}),
		}
		go pool.healthCheck.run()
	}

	return pool, nil
}

// Get retrieves a client from the pool, blocking up to 30s.
func (p *Pool) Get() *http.Client {
	return p.GetWithTimeout(30 * time.Second)
}

// GetWithTimeout retrieves a client from the pool, blocking up to timeout.
func (p *Pool) GetWithTimeout(timeout time.Duration) *http.Client {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		p.mu.Lock()
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return conn

	default:
		if p.canCreateConnection() {
			conn, err := p.createConnection()
			if err == nil {
				return conn
			}
			p.mu.Lock()
			p.stats.Errors++
			p.stats.LastError = err.Error()
			p.stats.LastErrorAt = time.Now()
			p.mu.Unlock()
		}
	}

	select {
	case conn := <-p.connections:
		p.mu.Lock()
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return conn
	case <-time.After(timeout):
		p.mu.Lock()
		p.stats.Timeouts++
		p.stats.Misses++
		p.mu.Unlock()
		return nil
	}
}

// Put returns a client to the pool.
func (p *Pool) Put(conn *http.Client) {
	if conn == nil {
		return
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	select {
	case p.connections <- conn:
		p.mu.Lock()
		p.stats.Active--
		p.mu.Unlock()
	default:
		p.mu.Lock()
		p.stats.Destroyed++
		p.currentSize--
		p.mu.Unlock()
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	stats.Total = p.currentSize
	stats.Idle = len(p.connections)
	return stats
}

// Close shuts down the pool and its health checker.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.healthCheck != nil {
		close(p.healthCheck.stopCh)
		<-p.healthCheck.stopped
	}

	close(p.connections)
	return nil
}

// Resize changes the maximum pool size, draining excess idle clients if
// shrinking.
func (p *Pool) Resize(newSize int) error {
	if newSize <= 0 {
		return fmt.Errorf("pool size must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("pool is closed")
	}

	oldSize := p.maxSize
	p.maxSize = newSize
	p.stats.MaxSize = newSize

	if newSize < oldSize {
		excess := len(p.connections) - newSize
	drainLoop:
		for i := 0; i < excess; i++ {
			select {
			case <-p.connections:
				p.currentSize--
				p.stats.Destroyed++
			default:
				break drainLoop
			}
		}
	}

	return nil
}

// Warmup pre-fills the pool with count clients (or maxSize if count <= 0).
func (p *Pool) Warmup(ctx context.Context, count int) error {
	if count <= 0 {
		count = p.maxSize
	}

	var errCount int
warmupLoop:
	for i := 0; i < count && i < p.maxSize; i++ {
		conn, err := p.createConnection()
		if err != nil {
			errCount++
			continue
		}
		select {
		case p.connections <- conn:
		case <-ctx.Done():
			return ctx.Err()
		default:
			break warmupLoop
		}
	}

	if errCount > 0 {
		return fmt.Errorf("warmup partially failed: %d errors", errCount)
	}
	return nil
}

func (p *Pool) canCreateConnection() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentSize < p.maxSize && !p.closed
}

func (p *Pool) createConnection() (*http.Client, error) {
	conn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.currentSize++
	p.stats.Created++
	p.stats.Active++
	p.stats.LastCreated = time.Now()
	p.mu.Unlock()

	return conn, nil
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.checkHealth()
		}
	}
}

func (hc *HealthChecker) checkHealth() {
	client := hc.pool.GetWithTimeout(hc.timeout)
	if client == nil {
		return
	}
	defer hc.pool.Put(client)

	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, hc.probeURL, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		hc.pool.mu.Lock()
		hc.pool.stats.Errors++
		hc.pool.stats.LastError = err.Error()
		hc.pool.stats.LastErrorAt = time.Now()
		hc.pool.mu.Unlock()
		return
	}
	_ = resp.Body.Close()
}
