package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/battle-replay/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает идентификаторы перезаписанных сессий,
// чтобы узлы сбросили их из локальных кешей.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  InvalidatorConfig
	nodeID  string
	log     *logging.Logger
	handler InvalidationHandler

	subscription *nats.Subscription
	subMu        sync.Mutex

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	recent    map[string]time.Time
	recentMux sync.Mutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig параметры NATS invalidator.
type InvalidatorConfig struct {
	NATSURL        string
	Subject        string
	MaxReconnects  int
	ReconnectWait  time.Duration
	DedupeWindow   time.Duration
	PublishTimeout time.Duration
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "replay.cache.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 5 * time.Second
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// InvalidationMessage сообщение об инвалидации.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator подключается к NATS.
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.applyDefaults()
	log := logging.GetStorageLogger()

	conn, err := nats.Connect(config.NATSURL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := newInvalidator(conn, config, nodeID)
	n.wg.Add(1)
	go n.cleanupLoop()

	log.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return n, nil
}

func newInvalidator(conn *nats.Conn, config InvalidatorConfig, nodeID string) *NATSInvalidator {
	config.applyDefaults()
	return &NATSInvalidator{
		conn:   conn,
		config: config,
		nodeID: nodeID,
		log:    logging.GetStorageLogger(),
		stopCh: make(chan struct{}),
		recent: make(map[string]time.Time),
	}
}

// PublishInvalidation отправляет уведомление; повтор в окне дедупликации пропускается.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if n.seenRecently(key) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now().UTC(), NodeID: n.nodeID})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := n.conn.Publish(n.config.Subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	n.remember(key)
	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывает handler на уведомления других узлов.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	n.handler = handler
	sub, err := n.conn.Subscribe(n.config.Subject, func(msg *nats.Msg) { n.handle(msg.Data) })
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()
	return nil
}

// handle разбирает входящее сообщение; свои сообщения и дубликаты игнорируются.
func (n *NATSInvalidator) handle(data []byte) {
	atomic.AddInt64(&n.receivedCount, 1)

	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if msg.NodeID == n.nodeID || n.seenRecently(msg.Key) {
		return
	}
	n.remember(msg.Key)

	if n.handler == nil {
		return
	}
	if err := n.handler(msg.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.log.Error("Invalidation handler failed for key %s: %v", msg.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		n.log.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

func (n *NATSInvalidator) seenRecently(key string) bool {
	n.recentMux.Lock()
	defer n.recentMux.Unlock()
	at, ok := n.recent[key]
	return ok && time.Since(at) < n.config.DedupeWindow
}

func (n *NATSInvalidator) remember(key string) {
	n.recentMux.Lock()
	n.recent[key] = time.Now()
	n.recentMux.Unlock()
}

func (n *NATSInvalidator) cleanupLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.DedupeWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.recentMux.Lock()
			for key, at := range n.recent {
				if time.Since(at) > n.config.DedupeWindow {
					delete(n.recent, key)
				}
			}
			n.recentMux.Unlock()
		case <-n.stopCh:
			return
		}
	}
}

// Metrics возвращает счётчики invalidator.
func (n *NATSInvalidator) Metrics() map[string]int64 {
	return map[string]int64{
		"published": atomic.LoadInt64(&n.publishedCount),
		"received":  atomic.LoadInt64(&n.receivedCount),
		"errors":    atomic.LoadInt64(&n.errorsCount),
	}
}

// Close останавливает фоновые горутины и закрывает соединение.
func (n *NATSInvalidator) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// InvalidatingCache оборачивает кеш: Delete рассылается другим узлам,
// а входящие уведомления удаляют ключ локально.
type InvalidatingCache struct {
	SessionCache
	inv Invalidator
}

// WithInvalidation подписывает кеш на уведомления inv
func WithInvalidation(ctx context.Context, c SessionCache, inv Invalidator) (*InvalidatingCache, error) {
	ic := &InvalidatingCache{SessionCache: c, inv: inv}
	err := inv.SubscribeInvalidations(ctx, func(key string) error {
		return c.Delete(context.Background(), key)
	})
	if err != nil {
		return nil, err
	}
	return ic, nil
}

func (c *InvalidatingCache) Delete(ctx context.Context, key string) error {
	if err := c.SessionCache.Delete(ctx, key); err != nil {
		return err
	}
	return c.inv.PublishInvalidation(ctx, key)
}

func (c *InvalidatingCache) Close() error {
	if err := c.inv.Close(); err != nil {
		return err
	}
	return c.SessionCache.Close()
}
