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

package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SnapshotSource captures frames from a local capture daemon or IP camera
// that serves one encoded image per GET.
type SnapshotSource struct {
	url     string
	timeout time.Duration
	client  *http.Client

	mu    sync.Mutex
	open  bool
	ready bool
}

func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	return &SnapshotSource{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Open probes the endpoint once. A 401/403 is a permission refusal; any
// other failure is a transient device error.
func (s *SnapshotSource) Open(ctx context.Context) error {
	frame, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.open = true
	s.ready = len(frame.Data) > 0
	s.mu.Unlock()
	return nil
}

func (s *SnapshotSource) Grab(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return Frame{}, fmt.Errorf("snapshot source not open")
	}
	return s.fetch(ctx)
}

func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.ready = false
	s.mu.Unlock()
	return nil
}

func (s *SnapshotSource) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *SnapshotSource) fetch(ctx context.Context) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Frame{}, &PermissionError{Reason: fmt.Sprintf("capture endpoint returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Frame{}, fmt.Errorf("capture endpoint returned %d", resp.StatusCode)
	}

	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		return Frame{}, fmt.Errorf("capture endpoint returned %q, want an image", mime)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("read snapshot body: %w", err)
	}
	return Frame{Data: data, MimeType: mime, CapturedAt: time.Now().UTC()}, nil
}
