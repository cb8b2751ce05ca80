package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
)

// apiResponse конверт ответов REST API
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// replayClient минимальный клиент REST API реплеев
type replayClient struct {
	base  string
	token string
	http  *http.Client
}

func newReplayClient(base, token string) *replayClient {
	return &replayClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *replayClient) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// call выполняет запрос и раскладывает поле data ответа в out
func (c *replayClient) call(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: некорректный ответ (%d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *replayClient) List(ctx context.Context, territory, player, since string, limit int) ([]battle.SessionSummary, error) {
	q := url.Values{}
	if territory != "" {
		q.Set("territory", territory)
	}
	if player != "" {
		q.Set("player", player)
	}
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var list []battle.SessionSummary
	err := c.call(ctx, http.MethodGet, "/api/replays", q, nil, &list)
	return list, err
}

// Get произвольный GET с распаковкой data в out
func (c *replayClient) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

// Document скачивает документ сессии в формате хранения
func (c *replayClient) Document(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/replays/"+url.PathEscape(id)+"/document", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var env apiResponse
		_ = json.Unmarshal(data, &env)
		return nil, fmt.Errorf("document %s: %d %s", id, resp.StatusCode, env.Message)
	}
	return data, nil
}

// Upload отправляет документ сессии, возвращает присвоенный ID
func (c *replayClient) Upload(ctx context.Context, doc []byte) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/replays", nil, doc, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}
