package eventbus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/logging"
)

// SignatureHeader заголовок с HMAC-SHA256 подписью тела
const SignatureHeader = "X-Replay-Signature"

// WebhookTarget получатель конвертов
type WebhookTarget struct {
	Name       string
	URL        string
	Secret     string
	Events     []string // "*": все типы
	Timeout    time.Duration
	RetryCount int
}

// TargetsFromConfig переводит конфигурацию в список получателей
func TargetsFromConfig(cfgs []config.WebhookConfig) []WebhookTarget {
	out := make([]WebhookTarget, 0, len(cfgs))
	for _, c := range cfgs {
		if c.URL == "" {
			continue
		}
		timeout := time.Duration(c.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		out = append(out, WebhookTarget{
			Name: c.Name, URL: c.URL, Secret: c.Secret, Events: c.Events,
			Timeout: timeout, RetryCount: c.RetryCount,
		})
	}
	return out
}

func (t WebhookTarget) subscribed(eventType string) bool {
	for _, e := range t.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// WebhookStats счётчики доставки
type WebhookStats struct {
	Delivered uint64
	Failed    uint64
}

// WebhookForwarder пересылает конверты шины во внешние HTTP-эндпоинты.
type WebhookForwarder struct {
	targets []WebhookTarget
	client  *http.Client
	backoff time.Duration
	log     *logging.Logger

	queue     chan *Envelope
	wg        sync.WaitGroup
	closeOnce sync.Once

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewWebhookForwarder создаёт пересыльщик; client == nil: http.Client с таймаутом 30с.
func NewWebhookForwarder(targets []WebhookTarget, client *http.Client) *WebhookForwarder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &WebhookForwarder{
		targets: targets,
		client:  client,
		backoff: time.Second,
		log:     logging.GetEventBusLogger(),
		queue:   make(chan *Envelope, 1000),
	}
	f.wg.Add(1)
	go f.worker()
	return f
}

// Attach подписывает пересыльщик на все события шины
func (f *WebhookForwarder) Attach(ctx context.Context, bus EventBus) (Subscription, error) {
	return bus.Subscribe(ctx, Filter{}, func(_ context.Context, ev *Envelope) {
		select {
		case f.queue <- ev:
		default:
			f.failed.Add(1)
			f.log.Warn("Очередь webhook переполнена, %s отброшен", ev.EventType)
		}
	})
}

// Stats текущие счётчики доставки
func (f *WebhookForwarder) Stats() WebhookStats {
	return WebhookStats{Delivered: f.delivered.Load(), Failed: f.failed.Load()}
}

// Close дожидается доставки поставленных в очередь конвертов.
// Вызывать после отписки от шины.
func (f *WebhookForwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.queue)
		f.wg.Wait()
	})
}

func (f *WebhookForwarder) worker() {
	defer f.wg.Done()
	for ev := range f.queue {
		f.process(ev)
	}
}

func (f *WebhookForwarder) process(ev *Envelope) {
	body, err := json.Marshal(ev)
	if err != nil {
		f.log.Error("Ошибка маршалинга конверта %s: %v", ev.ID, err)
		return
	}

	var wg sync.WaitGroup
	for _, target := range f.targets {
		if !target.subscribed(ev.EventType) {
			continue
		}
		wg.Add(1)
		go func(t WebhookTarget) {
			defer wg.Done()
			if err := f.send(t, ev.EventType, body); err != nil {
				f.failed.Add(1)
				f.log.Warn("Webhook %s: %v", t.Name, err)
				return
			}
			f.delivered.Add(1)
		}(target)
	}
	wg.Wait()
}

// send отправляет тело с повторами; запрос пересоздаётся на каждую попытку
func (f *WebhookForwarder) send(t WebhookTarget, eventType string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= t.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * f.backoff)
		}
		lastErr = f.post(t, eventType, body)
		if lastErr == nil {
			return nil
		}
		f.log.Debug("Попытка %d/%d для webhook %s: %v", attempt+1, t.RetryCount+1, t.Name, lastErr)
	}
	return lastErr
}

func (f *WebhookForwarder) post(t WebhookTarget, eventType string, body []byte) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "battle-replay/1.0")
	req.Header.Set("X-Event-Type", eventType)
	if t.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, t.Secret))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign возвращает подпись тела в формате sha256=<hex>
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
