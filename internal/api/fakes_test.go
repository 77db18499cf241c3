package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notmtri/necspeaking/internal/config"
	"github.com/notmtri/necspeaking/internal/database"
	"github.com/notmtri/necspeaking/internal/pipeline"
	"github.com/notmtri/necspeaking/internal/ratelimit"
	"github.com/notmtri/necspeaking/internal/session"
)

const testPassword = "correct horse"

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(ctx context.Context) error { return f.err }

type fakeQuestions struct {
	mu     sync.Mutex
	nextID int
	rows   map[int]database.Question
}

func newFakeQuestions() *fakeQuestions {
	return &fakeQuestions{nextID: 1, rows: map[int]database.Question{}}
}

func (f *fakeQuestions) ListQuestions(ctx context.Context) ([]database.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []database.Question{}
	for _, q := range f.rows {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeQuestions) RandomQuestion(ctx context.Context) (*database.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.rows {
		return &q, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeQuestions) CreateQuestion(ctx context.Context, topic, question, category string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.rows[id] = database.Question{ID: id, Topic: topic, Question: question, Category: category}
	return id, nil
}

func (f *fakeQuestions) UpdateQuestion(ctx context.Context, id int, p database.QuestionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.rows[id]
	if !ok {
		return database.ErrNotFound
	}
	if p.Topic != nil {
		q.Topic = *p.Topic
	}
	if p.Question != nil {
		q.Question = *p.Question
	}
	if p.Category != nil {
		q.Category = *p.Category
	}
	f.rows[id] = q
	return nil
}

func (f *fakeQuestions) DeleteQuestion(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return database.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

type fakeSamples struct {
	mu      sync.Mutex
	created []database.SampleInput
	patches map[int]database.SamplePatch
	deleted []int
	known   map[int]bool
}

func newFakeSamples(known ...int) *fakeSamples {
	f := &fakeSamples{patches: map[int]database.SamplePatch{}, known: map[int]bool{}}
	for _, id := range known {
		f.known[id] = true
	}
	return f
}

func (f *fakeSamples) ListSamples(ctx context.Context) ([]database.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []database.Sample{}
	for i := len(f.created) - 1; i >= 0; i-- {
		in := f.created[i]
		out = append(out, database.Sample{
			ID: i + 1, Filename: in.Filename, Topic: in.Topic, Speaker: in.Speaker, Score: in.Score,
			Duration: in.Duration, Transcript: in.Transcript, Feedback: in.Feedback, AudioURL: in.AudioURL,
			Tags: database.SampleTags(in.Topic, in.Speaker, in.Score),
		})
	}
	return out, nil
}

func (f *fakeSamples) CreateSample(ctx context.Context, in database.SampleInput) (int, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	id := len(f.created)
	f.known[id] = true
	return id, nil
}

func (f *fakeSamples) UpdateSample(ctx context.Context, id int, p database.SamplePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return database.ErrNotFound
	}
	f.patches[id] = p
	return nil
}

func (f *fakeSamples) DeleteSample(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[id] {
		return database.ErrNotFound
	}
	delete(f.known, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAnalyzer struct {
	calls   int
	lastReq pipeline.Request
	body    []byte
	res     *pipeline.Result
	err     error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.calls++
	f.lastReq = req
	f.body, _ = io.ReadAll(req.Audio)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

// dirSaver writes uploads into a temp dir the way audio.Normalizer.Save does.
type dirSaver struct {
	dir   string
	paths []string
}

func (s *dirSaver) Save(r io.Reader, filename, stamp string) (string, error) {
	f, err := os.CreateTemp(s.dir, stamp+"_*_"+filepath.Base(filename))
	if err != nil {
		return "", err
	}
	defer f.Close()
	p := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	s.paths = append(s.paths, p)
	return p, nil
}

type fakeProber struct {
	seconds float64
	err     error
}

func (f fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	return f.seconds, f.err
}

type fakeMedia struct {
	keys  []string
	types []string
	err   error
}

func (f *fakeMedia) Upload(ctx context.Context, key, localPath, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", errors.New("source missing at upload time")
	}
	f.keys = append(f.keys, key)
	f.types = append(f.types, contentType)
	return "https://media.example/necs_samples/" + key, nil
}

func (f *fakeMedia) Type() string { return "fake" }

type recordedEvent struct {
	kind string
	data any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(kind string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{kind, data})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.kind)
	}
	return out
}

// testEnv is a fully wired router over fakes.
type testEnv struct {
	handler   http.Handler
	questions *fakeQuestions
	samples   *fakeSamples
	analyzer  *fakeAnalyzer
	saver     *dirSaver
	media     *fakeMedia
	events    *fakeEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := session.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		questions: newFakeQuestions(),
		samples:   newFakeSamples(),
		analyzer:  &fakeAnalyzer{},
		saver:     &dirSaver{dir: t.TempDir()},
		media:     &fakeMedia{},
		events:    &fakeEvents{},
	}
	cfg := &config.Config{
		Audio: config.AudioConfig{MaxUploadBytes: 1 << 20},
	}
	mgr := session.NewManager(session.NewMemoryStore(), session.Options{
		PasswordHash: hash,
		Secret:       "test-secret",
		TTL:          time.Hour,
	}, zerolog.Nop())

	env.handler = NewRouter(cfg, Deps{
		DB:        fakeDB{},
		Questions: env.questions,
		Samples:   env.samples,
		Analyzer:  env.analyzer,
		Saver:     env.saver,
		Prober:    fakeProber{seconds: 42.7},
		Media:     env.media,
		Auth:      mgr,
		Limiter:   ratelimit.NewMemoryLimiter(),
		Events:    env.events,
	}, "test", time.Now(), zerolog.Nop())
	return env
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// login returns the session cookie of a successful admin login.
func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/admin/login", bytes.NewBufferString(`{"password":"`+testPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login set no cookie")
	}
	return cookies
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}
