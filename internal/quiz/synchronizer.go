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

// Package quiz keeps the client's view of checkpoint quizzes in step with
// the server: a local 1 Hz countdown between authoritative refreshes,
// single-shot answer submission, and draft validation before publish.
package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/classpulse/engage-agent/pkg/core"
	"github.com/go-playground/validator/v10"
)

// Backend is the slice of the REST surface the synchronizer needs.
type Backend interface {
	ActiveQuizzes(ctx context.Context, sessionID int64) ([]core.QuizCheckpoint, error)
	SubmitAnswer(ctx context.Context, sessionID, quizID int64, optionIndex int) (core.QuizAnswer, error)
	CreateQuiz(ctx context.Context, sessionID int64, question string, options []string, correctOptionIndex, durationSeconds int) (core.QuizCheckpoint, error)
	CloseQuiz(ctx context.Context, sessionID, quizID int64) (core.QuizCheckpoint, error)
	MyQuizStats(ctx context.Context, sessionID int64) (core.StudentQuizStats, error)
}

// Draft is an instructor's quiz before publication. Bounds match what the
// server enforces, so a rejected draft never leaves the client.
type Draft struct {
	Question           string   `validate:"required,min=5,max=500"`
	Options            []string `validate:"required,min=2,max=6,dive,required"`
	CorrectOptionIndex int      `validate:"gte=0"`
	DurationSeconds    int      `validate:"gte=15,lte=3600"`
}

type tracked struct {
	checkpoint core.QuizCheckpoint
	fetchedAt  time.Time
	selected   *int
	answered   bool
	answeredAt time.Time
	result     *core.QuizAnswer
}

// Synchronizer owns the local quiz state for one session. Countdown ticks
// are purely local; the server stays authoritative through Refresh.
type Synchronizer struct {
	backend   Backend
	sessionID int64
	logger    *slog.Logger
	validate  *validator.Validate

	mu      sync.Mutex
	quizzes map[int64]*tracked
	running bool
	stop    chan struct{}

	onTick func(quizID int64, remaining int)

	now func() time.Time
}

func New(backend Backend, sessionID int64, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		backend:   backend,
		sessionID: sessionID,
		logger:    logger,
		validate:  validator.New(),
		quizzes:   make(map[int64]*tracked),
		now:       time.Now,
	}
}

// SetTickFunc registers the per-second countdown sink.
func (s *Synchronizer) SetTickFunc(f func(quizID int64, remaining int)) {
	s.mu.Lock()
	s.onTick = f
	s.mu.Unlock()
}

// Refresh pulls the authoritative active-quiz list and replaces the
// tracked set. Local answer state survives for quizzes that stay listed;
// a checkpoint the server reports as already answered is marked so even
// when the answer was given on another device.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	quizzes, err := s.backend.ActiveQuizzes(ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("refresh quizzes: %w", err)
	}
	fetchedAt := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[int64]*tracked, len(quizzes))
	for _, q := range quizzes {
		entry := &tracked{checkpoint: q, fetchedAt: fetchedAt}
		if prev, ok := s.quizzes[q.ID]; ok {
			entry.selected = prev.selected
			entry.answered = prev.answered
			entry.answeredAt = prev.answeredAt
			entry.result = prev.result
		}
		if q.AlreadyAnswered {
			entry.answered = true
		}
		next[q.ID] = entry
	}
	s.quizzes = next
	return nil
}

// Active lists the currently tracked checkpoints.
func (s *Synchronizer) Active() []core.QuizCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.QuizCheckpoint, 0, len(s.quizzes))
	for _, entry := range s.quizzes {
		out = append(out, entry.checkpoint)
	}
	return out
}

// Remaining reports whole seconds left on a checkpoint. The absolute
// expiry wins when the server sent one; otherwise the remaining-seconds
// snapshot decays from the moment it was fetched. Never negative.
func (s *Synchronizer) Remaining(quizID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quizzes[quizID]
	if !ok {
		return 0, core.ErrQuizNotFound
	}
	return s.remainingLocked(entry), nil
}

func (s *Synchronizer) remainingLocked(entry *tracked) int {
	now := s.now()
	cp := entry.checkpoint
	if cp.ExpiresAt != nil {
		left := int(math.Ceil(cp.ExpiresAt.Sub(now).Seconds()))
		if left < 0 {
			return 0
		}
		return left
	}
	if cp.RemainingSeconds != nil {
		elapsed := int(now.Sub(entry.fetchedAt).Seconds())
		left := *cp.RemainingSeconds - elapsed
		if left < 0 {
			return 0
		}
		return left
	}
	return 0
}

// StartClock begins the 1 Hz countdown. A no-op while already running.
func (s *Synchronizer) StartClock() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go s.clockLoop(stop)
}

func (s *Synchronizer) StopClock() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
}

func (s *Synchronizer) clockLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick publishes remaining seconds for every tracked quiz and schedules a
// refresh the first time one runs out locally, so the authoritative close
// is picked up without waiting for the next poll.
func (s *Synchronizer) tick() {
	var expired bool
	s.mu.Lock()
	onTick := s.onTick
	type pair struct {
		id        int64
		remaining int
	}
	ticks := make([]pair, 0, len(s.quizzes))
	for id, entry := range s.quizzes {
		left := s.remainingLocked(entry)
		ticks = append(ticks, pair{id, left})
		if left == 0 && entry.checkpoint.IsActive {
			entry.checkpoint.IsActive = false
			expired = true
		}
	}
	s.mu.Unlock()

	if onTick != nil {
		for _, t := range ticks {
			onTick(t.id, t.remaining)
		}
	}
	if expired {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("post-expiry quiz refresh failed", "error", err)
			}
		}()
	}
}

// Select records the student's choice locally. No network traffic until
// Submit.
func (s *Synchronizer) Select(quizID int64, optionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quizzes[quizID]
	if !ok {
		return core.ErrQuizNotFound
	}
	if entry.answered {
		return core.ErrAlreadyAnswered
	}
	if optionIndex < 0 || optionIndex >= len(entry.checkpoint.Options) {
		return fmt.Errorf("option index %d out of range for %d options", optionIndex, len(entry.checkpoint.Options))
	}
	idx := optionIndex
	entry.selected = &idx
	return nil
}

// Submit sends the selected answer exactly once. A checkpoint whose local
// countdown has reached zero is rejected here without any network call;
// the rejection schedules a refresh so the view catches up with the
// server's close.
func (s *Synchronizer) Submit(ctx context.Context, quizID int64) (core.QuizAnswer, error) {
	s.mu.Lock()
	entry, ok := s.quizzes[quizID]
	if !ok {
		s.mu.Unlock()
		return core.QuizAnswer{}, core.ErrQuizNotFound
	}
	if entry.answered {
		s.mu.Unlock()
		return core.QuizAnswer{}, core.ErrAlreadyAnswered
	}
	if entry.selected == nil {
		s.mu.Unlock()
		return core.QuizAnswer{}, core.ErrNoSelection
	}
	if !entry.checkpoint.IsActive || s.remainingLocked(entry) <= 0 {
		s.mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("quiz refresh after local time-over failed", "error", err)
			}
		}()
		return core.QuizAnswer{}, core.ErrTimeOver
	}
	selected := *entry.selected
	// Mark answered before the call goes out so a second Submit racing
	// this one cannot double-send.
	entry.answered = true
	entry.answeredAt = s.now()
	s.mu.Unlock()

	answer, err := s.backend.SubmitAnswer(ctx, s.sessionID, quizID, selected)
	if err != nil {
		s.mu.Lock()
		if entry, ok := s.quizzes[quizID]; ok {
			entry.answered = false
			entry.answeredAt = time.Time{}
		}
		s.mu.Unlock()
		return core.QuizAnswer{}, err
	}

	s.mu.Lock()
	if entry, ok := s.quizzes[quizID]; ok {
		entry.result = &answer
		entry.selected = nil
	}
	s.mu.Unlock()
	s.logger.Info("quiz answer submitted", "quiz_id", quizID, "correct", answer.IsCorrect)
	return answer, nil
}

// Result returns the graded answer for a quiz, if one came back.
func (s *Synchronizer) Result(quizID int64) (core.QuizAnswer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.quizzes[quizID]
	if !ok || entry.result == nil {
		return core.QuizAnswer{}, false
	}
	return *entry.result, true
}

// RecentlyAnswered reports whether any tracked quiz was answered within
// the window. The signal composer uses this for its participation boost.
func (s *Synchronizer) RecentlyAnswered(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	for _, entry := range s.quizzes {
		if entry.answered && entry.answeredAt.After(cutoff) {
			return true
		}
	}
	return false
}

// Publish validates the draft client-side and creates the checkpoint.
func (s *Synchronizer) Publish(ctx context.Context, draft Draft) (core.QuizCheckpoint, error) {
	if err := s.validate.Struct(draft); err != nil {
		return core.QuizCheckpoint{}, fmt.Errorf("invalid quiz draft: %w", err)
	}
	if draft.CorrectOptionIndex >= len(draft.Options) {
		return core.QuizCheckpoint{}, fmt.Errorf("correct option index %d out of range for %d options", draft.CorrectOptionIndex, len(draft.Options))
	}

	quiz, err := s.backend.CreateQuiz(ctx, s.sessionID, draft.Question, draft.Options, draft.CorrectOptionIndex, draft.DurationSeconds)
	if err != nil {
		return core.QuizCheckpoint{}, err
	}

	s.mu.Lock()
	s.quizzes[quiz.ID] = &tracked{checkpoint: quiz, fetchedAt: s.now()}
	s.mu.Unlock()
	s.logger.Info("quiz published", "quiz_id", quiz.ID, "duration_seconds", quiz.DurationSeconds)
	return quiz, nil
}

// CloseCheckpoint ends a quiz early and updates the local view.
func (s *Synchronizer) CloseCheckpoint(ctx context.Context, quizID int64) (core.QuizCheckpoint, error) {
	quiz, err := s.backend.CloseQuiz(ctx, s.sessionID, quizID)
	if err != nil {
		return core.QuizCheckpoint{}, err
	}
	s.mu.Lock()
	if entry, ok := s.quizzes[quizID]; ok {
		entry.checkpoint = quiz
		entry.fetchedAt = s.now()
	}
	s.mu.Unlock()
	return quiz, nil
}

// Stats fetches this student's quiz record for the session.
func (s *Synchronizer) Stats(ctx context.Context) (core.StudentQuizStats, error) {
	return s.backend.MyQuizStats(ctx, s.sessionID)
}
