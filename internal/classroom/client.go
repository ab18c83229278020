// Copyright (c) 2026, Classpulse Labs.
//
// Classpulse Labs licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package classroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
)

// Client speaks the session/quiz REST surface. It owns no state beyond
// credentials; all session state lives server-side.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// APIError carries the server's detail string for non-2xx responses.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

func (c *Client) GetSession(ctx context.Context, sessionID int64) (core.Session, error) {
	var out core.Session
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sessionID), nil, &out)
	return out, err
}

func (c *Client) JoinSession(ctx context.Context, sessionID int64, authType string, deviceInfo map[string]any) (core.Participant, error) {
	body := map[string]any{
		"auth_type":   authType,
		"device_info": deviceInfo,
	}
	var out core.Participant
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/join", sessionID), body, &out)
	return out, err
}

type quizList struct {
	Quizzes []core.QuizCheckpoint `json:"quizzes"`
}

// ActiveQuizzes lists checkpoints still open to this participant; the
// server already filters out ones they answered.
func (c *Client) ActiveQuizzes(ctx context.Context, sessionID int64) ([]core.QuizCheckpoint, error) {
	var out quizList
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/quizzes/active", sessionID), nil, &out)
	return out.Quizzes, err
}

func (c *Client) ListQuizzes(ctx context.Context, sessionID int64, activeOnly bool) ([]core.QuizCheckpoint, error) {
	path := fmt.Sprintf("/api/v1/sessions/%d/quizzes", sessionID)
	if activeOnly {
		path += "?active_only=true"
	}
	var out quizList
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Quizzes, err
}

func (c *Client) MyQuizStats(ctx context.Context, sessionID int64) (core.StudentQuizStats, error) {
	var out core.StudentQuizStats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/quizzes/mine/stats", sessionID), nil, &out)
	return out, err
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID, quizID int64, optionIndex int) (core.QuizAnswer, error) {
	body := map[string]any{"selected_option_index": optionIndex}
	var out core.QuizAnswer
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/quizzes/%d/answers", sessionID, quizID), body, &out)
	return out, err
}

func (c *Client) CreateQuiz(ctx context.Context, sessionID int64, question string, options []string, correctOptionIndex, durationSeconds int) (core.QuizCheckpoint, error) {
	body := map[string]any{
		"question":             question,
		"options":              options,
		"correct_option_index": correctOptionIndex,
		"duration_seconds":     durationSeconds,
	}
	var out core.QuizCheckpoint
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/quizzes", sessionID), body, &out)
	return out, err
}

func (c *Client) CloseQuiz(ctx context.Context, sessionID, quizID int64) (core.QuizCheckpoint, error) {
	var out core.QuizCheckpoint
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/sessions/%d/quizzes/%d/close", sessionID, quizID), nil, &out)
	return out, err
}

func (c *Client) JitsiToken(ctx context.Context, sessionID int64) (core.JitsiToken, error) {
	var out core.JitsiToken
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/jitsi-token", sessionID), nil, &out)
	return out, err
}

// FetchInsights is the REST fallback for the insights socket; the
// dashboard degrades to periodic refresh through this.
func (c *Client) FetchInsights(ctx context.Context, sessionID int64, topic core.TopicDifficulty, localHour int) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/v1/sessions/%d/engagement/insights?topic_difficulty=%s&local_hour=%d", sessionID, topic, localHour)
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := struct {
			Detail string `json:"detail"`
		}{}
		raw, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(raw, &detail); err != nil || detail.Detail == "" {
			detail.Detail = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("api call failed", "method", method, "path", path, "status", resp.StatusCode, "detail", detail.Detail)
		return &APIError{Status: resp.StatusCode, Detail: detail.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
