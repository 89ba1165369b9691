package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vuelogic/schedule-agent/internal/config"
)

const (
	convKeyPrefix  = "vuelogic:conv:"
	lessonsKey     = "vuelogic:lessons"
	trustKey       = "vuelogic:trust_score"
	filesKeyPrefix = "vuelogic:files:"
	fileKeyPrefix  = "vuelogic:file:"

	// ConvMaxLen caps a session transcript; appending beyond it drops the
	// oldest messages.
	ConvMaxLen = 100
)

// kv is the command surface the store needs from its backend. The Redis
// client is wrapped to fit it so tests can substitute an in-memory fake.
type kv interface {
	Get(ctx context.Context, key string) (string, error) // "" with nil error when the key is absent
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
}

type redisKV struct {
	client *redis.Client
}

func (r redisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r redisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r redisKV) Del(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Store persists session state in a remote key-value service. Persistence is
// optional: with no endpoint configured every read returns its documented
// default and every write is a no-op. Backend errors are returned so callers
// can log them, but callers must still degrade rather than fail the request.
type Store struct {
	kv kv
}

func New(cfg *config.Config) *Store {
	if !cfg.PersistenceConfigured() {
		return &Store{}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("Invalid key-value store URL, persistence disabled: %v", err)
		return &Store{}
	}
	if cfg.RedisToken != "" {
		opts.Password = cfg.RedisToken
	}
	return &Store{kv: redisKV{client: redis.NewClient(opts)}}
}

// newWithKV is the test seam for backend fault injection.
func newWithKV(backend kv) *Store {
	return &Store{kv: backend}
}

// NewMemory returns a Store backed by an in-process map, for tests and for
// local development without a Redis endpoint.
func NewMemory() *Store {
	return &Store{kv: &memoryKV{data: map[string]string{}}}
}

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Available reports whether a backing service is configured.
func (s *Store) Available() bool {
	return s.kv != nil
}

// --- Conversation ---

func (s *Store) Conversation(ctx context.Context, sessionID string) ([]Message, error) {
	if s.kv == nil || sessionID == "" {
		return []Message{}, nil
	}
	raw, err := s.kv.Get(ctx, convKeyPrefix+sessionID)
	if err != nil || raw == "" {
		return []Message{}, err
	}
	var conv []Message
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return []Message{}, fmt.Errorf("decode conversation %s: %w", sessionID, err)
	}
	return conv, nil
}

// AppendToConversation appends one message, keeping the last ConvMaxLen.
// The read-modify-write is not atomic; concurrent appends to the same
// session can lose updates.
func (s *Store) AppendToConversation(ctx context.Context, sessionID, role, content string) error {
	if s.kv == nil || sessionID == "" {
		return nil
	}
	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return err
	}
	conv = append(conv, Message{Role: role, Content: content})
	if len(conv) > ConvMaxLen {
		conv = conv[len(conv)-ConvMaxLen:]
	}
	return s.setJSON(ctx, convKeyPrefix+sessionID, conv)
}

// SaveConversation replaces the stored transcript, truncated to the most
// recent ConvMaxLen messages.
func (s *Store) SaveConversation(ctx context.Context, sessionID string, history []Message) error {
	if s.kv == nil || sessionID == "" {
		return nil
	}
	if len(history) > ConvMaxLen {
		history = history[len(history)-ConvMaxLen:]
	}
	return s.setJSON(ctx, convKeyPrefix+sessionID, history)
}

// --- Lessons learned ---

func (s *Store) Lessons(ctx context.Context) ([]Lesson, error) {
	if s.kv == nil {
		return []Lesson{}, nil
	}
	raw, err := s.kv.Get(ctx, lessonsKey)
	if err != nil || raw == "" {
		return []Lesson{}, err
	}
	var lessons []Lesson
	if err := json.Unmarshal([]byte(raw), &lessons); err != nil {
		return []Lesson{}, fmt.Errorf("decode lessons: %w", err)
	}
	return lessons, nil
}

// AppendLesson appends one entry to the global lessons log. There is no
// deletion or edit path. The date defaults to today (UTC) when absent.
func (s *Store) AppendLesson(ctx context.Context, entry Lesson) error {
	if s.kv == nil {
		return nil
	}
	lessons, err := s.Lessons(ctx)
	if err != nil {
		return err
	}
	if entry.Date == "" {
		entry.Date = time.Now().UTC().Format("2006-01-02")
	}
	lessons = append(lessons, entry)
	return s.setJSON(ctx, lessonsKey, lessons)
}

// --- Trust score ---

func defaultTrustScore() TrustScore {
	return TrustScore{HistoricalAccuracy: 1.0}
}

// TrustScore returns the stored record with AgencyScore recomputed.
func (s *Store) TrustScore(ctx context.Context) (TrustScore, error) {
	if s.kv == nil {
		return defaultTrustScore(), nil
	}
	raw, err := s.kv.Get(ctx, trustKey)
	if err != nil || raw == "" {
		return defaultTrustScore(), err
	}
	ts := defaultTrustScore()
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return defaultTrustScore(), fmt.Errorf("decode trust score: %w", err)
	}
	ts.AgencyScore = agencyScore(ts)
	return ts, nil
}

// RecordProposal records one proposal outcome: the total always increments,
// approvals only when the proposal was approved.
func (s *Store) RecordProposal(ctx context.Context, approved bool) error {
	if s.kv == nil {
		return nil
	}
	ts, err := s.TrustScore(ctx)
	if err != nil {
		return err
	}
	ts.TotalProposals++
	if approved {
		ts.Approvals++
	}
	ts.AgencyScore = agencyScore(ts)
	return s.setJSON(ctx, trustKey, ts)
}

func agencyScore(ts TrustScore) float64 {
	if ts.TotalProposals == 0 {
		return 0.0
	}
	score := float64(ts.Approvals) / float64(ts.TotalProposals) * ts.HistoricalAccuracy
	return math.Round(score*100) / 100
}

// --- Uploaded files ---

func (s *Store) Files(ctx context.Context, sessionID string) ([]FileInfo, error) {
	if s.kv == nil || sessionID == "" {
		return []FileInfo{}, nil
	}
	raw, err := s.kv.Get(ctx, filesKeyPrefix+sessionID)
	if err != nil || raw == "" {
		return []FileInfo{}, err
	}
	var files []FileInfo
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return []FileInfo{}, fmt.Errorf("decode file index %s: %w", sessionID, err)
	}
	return files, nil
}

func (s *Store) FileContent(ctx context.Context, sessionID, filename string) (string, error) {
	if s.kv == nil || sessionID == "" || filename == "" {
		return "", nil
	}
	return s.kv.Get(ctx, fileKeyPrefix+sessionID+":"+filename)
}

// SaveFile stores the file body and upserts its index entry. Re-uploading an
// existing filename replaces both.
func (s *Store) SaveFile(ctx context.Context, sessionID, filename, content string) (FileInfo, error) {
	info := FileInfo{
		Filename:   filename,
		Size:       len(content),
		UploadedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if s.kv == nil || sessionID == "" || filename == "" {
		return info, nil
	}
	files, err := s.Files(ctx, sessionID)
	if err != nil {
		return info, err
	}
	kept := files[:0]
	for _, f := range files {
		if f.Filename != filename {
			kept = append(kept, f)
		}
	}
	kept = append(kept, info)
	if err := s.kv.Set(ctx, fileKeyPrefix+sessionID+":"+filename, content); err != nil {
		return info, err
	}
	return info, s.setJSON(ctx, filesKeyPrefix+sessionID, kept)
}

// DeleteFile removes the index entry and the content blob, reporting whether
// the filename was present.
func (s *Store) DeleteFile(ctx context.Context, sessionID, filename string) (bool, error) {
	if s.kv == nil || sessionID == "" || filename == "" {
		return false, nil
	}
	files, err := s.Files(ctx, sessionID)
	if err != nil {
		return false, err
	}
	kept := files[:0]
	found := false
	for _, f := range files {
		if f.Filename == filename {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return false, nil
	}
	if err := s.setJSON(ctx, filesKeyPrefix+sessionID, kept); err != nil {
		return false, err
	}
	if err := s.kv.Del(ctx, fileKeyPrefix+sessionID+":"+filename); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(data))
}
