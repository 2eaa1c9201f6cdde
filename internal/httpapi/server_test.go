package httpapi

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/example/speech-trainer/api-go/internal/catalog"
	"github.com/example/speech-trainer/api-go/internal/download"
	"github.com/example/speech-trainer/api-go/internal/joblog"
	"github.com/example/speech-trainer/api-go/internal/jobs"
	"github.com/example/speech-trainer/api-go/internal/lexicon"
	"github.com/example/speech-trainer/api-go/internal/model"
	"github.com/example/speech-trainer/api-go/internal/modelfs"
	"github.com/example/speech-trainer/api-go/internal/store"
	"github.com/example/speech-trainer/api-go/internal/training"
)

const testModel = "en_US-rhasspy"

type trainerFunc func(ctx context.Context, req training.Request, logger *slog.Logger) error

func (f trainerFunc) Train(ctx context.Context, req training.Request, logger *slog.Logger) error {
	return f(ctx, req, logger)
}

type stubGuesser map[string]string

func (g stubGuesser) Guess(_ context.Context, words []string, _ string) ([]lexicon.Entry, error) {
	var out []lexicon.Entry
	for _, w := range words {
		if p, ok := g[w]; ok {
			out = append(out, lexicon.Entry{Word: w, Phonemes: strings.Fields(p)})
		}
	}
	return out, nil
}

type fixture struct {
	server Server
	runner *jobs.Runner
	store  *store.SQLite
	layout modelfs.Layout
	http   *httptest.Server
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, configure func(*Server)) *fixture {
	t.Helper()
	root := t.TempDir()
	layout := modelfs.Layout{
		TrainDir:  filepath.Join(root, "train"),
		ModelsDir: filepath.Join(root, "models"),
	}
	st, err := store.Open(filepath.Join(root, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	runner := jobs.NewRunner(context.Background(), st, quietLogger())
	t.Cleanup(func() {
		runner.Wait()
		_ = st.Close()
	})

	s := Server{
		Layout:  layout,
		Catalog: catalog.Catalog{BaseURL: "http://127.0.0.1:1/models"},
		Runner:  runner,
		Jobs:    st,
		Downloader: download.Downloader{
			ModelsDir: layout.ModelsDir,
			Logger:    quietLogger(),
		},
		Trainer:       trainerFunc(func(context.Context, training.Request, *slog.Logger) error { return nil }),
		DecodeMode:    "arpa",
		StreamTimeout: time.Minute,
		Logger:        quietLogger(),
	}
	if configure != nil {
		configure(&s)
	}
	f := &fixture{server: s, runner: runner, store: st, layout: layout}
	f.http = httptest.NewServer(s.Router())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, f.http.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(data)
}

func (f *fixture) writeSentences(t *testing.T, suffix string) {
	t.Helper()
	if err := f.layout.WriteSentences(testModel, suffix, "sentences:\n  - turn on the light\n"); err != nil {
		t.Fatal(err)
	}
}

func lines(body string) []string {
	return strings.Split(strings.TrimSuffix(body, "\n"), "\n")
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: testModel + "/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		hdr := &tar.Header{Name: testModel + "/" + name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestDownloadStreamsProgressAndExtracts(t *testing.T) {
	archive := tarGz(t, map[string]string{"lexicon.db": "db", "g2p.fst": "fst"})
	models := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/"+testModel+".tar.gz" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "model.tar.gz", time.Time{}, bytes.NewReader(archive))
	}))
	defer models.Close()

	f := newFixture(t, func(s *Server) { s.Catalog.BaseURL = models.URL + "/models" })
	resp, body := f.do(t, http.MethodPost, "/api/download?id="+testModel, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}

	got := lines(body)
	want := []string{
		"Expecting " + strconv.Itoa(len(archive)) + " byte(s)",
		"Download complete",
		"Model extracted",
		"Return to models page to continue",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if !f.layout.IsDownloaded(testModel) {
		t.Fatal("model dir missing after extraction")
	}
	if data, err := os.ReadFile(f.layout.G2PPath(testModel)); err != nil || string(data) != "fst" {
		t.Fatalf("g2p.fst = %q, %v", data, err)
	}

	f.runner.Wait()
	list, err := f.store.ListJobs(context.Background(), testModel, 10)
	if err != nil || len(list) != 1 || list[0].Kind != model.JobDownload || list[0].Status != model.JobDone {
		t.Fatalf("history = %+v, %v", list, err)
	}
}

func TestDownloadFailureIsReportedInStream(t *testing.T) {
	models := httptest.NewServer(http.NotFoundHandler())
	defer models.Close()

	f := newFixture(t, func(s *Server) { s.Catalog.BaseURL = models.URL })
	resp, body := f.do(t, http.MethodPost, "/api/download?id="+testModel, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := lines(body)
	if len(got) != 1 || !strings.HasPrefix(got[0], "ERROR: transport: download ") || !strings.Contains(got[0], "404") {
		t.Fatalf("lines = %q", got)
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/api/download?id=xx_XX-none", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.TrimSpace(body) != "not_found: unknown model: xx_XX-none" {
		t.Fatalf("body = %q", body)
	}
}

func TestTrainSuccess(t *testing.T) {
	var got training.Request
	f := newFixture(t, func(s *Server) {
		s.DecodeMode = "arpa_rescore"
		s.RescoreOrder = 4
		s.ToolsDir = "/opt/tools"
		s.Trainer = trainerFunc(func(_ context.Context, req training.Request, logger *slog.Logger) error {
			got = req
			logger.Info("compiling graph")
			logger.Debug("fst size", "states", 12)
			return nil
		})
	})
	f.writeSentences(t, "kitchen")

	resp, body := f.do(t, http.MethodPost, "/api/train?id="+testModel+"&suffix=kitchen", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	out := lines(body)
	if len(out) != 6 {
		t.Fatalf("lines = %q", out)
	}
	if out[0] != "Training started" || out[1] != "Training "+testModel+" (suffix=kitchen)" ||
		out[2] != "compiling graph" || out[3] != "fst size states=12" ||
		!strings.HasPrefix(out[4], "Training completed in ") || out[5] != "Training complete" {
		t.Fatalf("lines = %q", out)
	}

	if got.Language != "en" || got.RescoreOrder != 4 || got.ToolsDir != "/opt/tools" {
		t.Fatalf("request = %+v", got)
	}
	if len(got.LangSuffixes) != 2 || got.LangSuffixes[1] != training.LangArpaRescore {
		t.Fatalf("lang suffixes = %v", got.LangSuffixes)
	}
	if len(got.SentenceFiles) != 1 || got.SentenceFiles[0] != f.layout.SentencesPath(testModel, "kitchen") {
		t.Fatalf("sentence files = %v", got.SentenceFiles)
	}
	if info, err := os.Stat(got.TrainDir); err != nil || !info.IsDir() {
		t.Fatalf("train dir not created: %v", err)
	}
}

func TestTrainFailureEndsWithError(t *testing.T) {
	f := newFixture(t, func(s *Server) {
		s.Trainer = trainerFunc(func(_ context.Context, _ training.Request, logger *slog.Logger) error {
			logger.Info("step 1")
			return errors.New("boom")
		})
	})
	f.writeSentences(t, "")

	resp, body := f.do(t, http.MethodPost, "/api/train?id="+testModel, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := "Training started\nTraining " + testModel + " (suffix=)\nstep 1\nERROR: boom\n"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}

	f.runner.Wait()
	_, jobsBody := f.do(t, http.MethodGet, "/api/jobs?id="+testModel, nil)
	var payload struct {
		Jobs []model.Job `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(jobsBody), &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, jobsBody)
	}
	if len(payload.Jobs) != 1 || payload.Jobs[0].Status != model.JobError || payload.Jobs[0].Error != "boom" {
		t.Fatalf("jobs = %+v", payload.Jobs)
	}

	resp, one := f.do(t, http.MethodGet, "/api/jobs/"+payload.Jobs[0].ID, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(one, `"status":"error"`) {
		t.Fatalf("job = %d %s", resp.StatusCode, one)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/jobs/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status = %d", resp.StatusCode)
	}
}

func TestTrainRequiresSentences(t *testing.T) {
	called := false
	f := newFixture(t, func(s *Server) {
		s.Trainer = trainerFunc(func(context.Context, training.Request, *slog.Logger) error {
			called = true
			return nil
		})
	})
	resp, body := f.do(t, http.MethodPost, "/api/train?id="+testModel, nil)
	if resp.StatusCode != http.StatusBadRequest || !strings.HasPrefix(body, "validation: ") {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
	f.runner.Wait()
	if called {
		t.Fatal("trainer ran without sentences")
	}
}

func TestTrainRejectsBusyModel(t *testing.T) {
	f := newFixture(t, nil)
	f.writeSentences(t, "")

	release := make(chan struct{})
	h, err := f.runner.Start(model.JobDownload, testModel, "", func(ctx context.Context, _ *joblog.Log) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := f.do(t, http.MethodPost, "/api/train?id="+testModel, nil)
	close(release)
	<-h.Done()
	if resp.StatusCode != http.StatusConflict || !strings.HasPrefix(body, "conflict: ") {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
}

func TestStreamTimeoutDetachesJob(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(s *Server) {
		s.StreamTimeout = 50 * time.Millisecond
		s.Trainer = trainerFunc(func(_ context.Context, _ training.Request, logger *slog.Logger) error {
			<-release
			logger.Info("finished unobserved")
			return nil
		})
	})
	f.writeSentences(t, "")

	resp, body := f.do(t, http.MethodPost, "/api/train?id="+testModel, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := lines(body)
	if last := out[len(out)-1]; last != "ERROR: stream timed out after 50ms" {
		t.Fatalf("lines = %q", out)
	}
	if !f.runner.Busy(testModel) {
		t.Fatal("job stopped with the stream")
	}

	close(release)
	f.runner.Wait()
	list, err := f.store.ListJobs(context.Background(), testModel, 1)
	if err != nil || len(list) != 1 || list[0].Status != model.JobDone {
		t.Fatalf("history = %+v, %v", list, err)
	}
}

func TestClientDisconnectDetachesJob(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(s *Server) {
		s.Trainer = trainerFunc(func(_ context.Context, _ training.Request, logger *slog.Logger) error {
			logger.Info("compiling")
			<-release
			logger.Info("finished unobserved")
			return nil
		})
	})
	f.writeSentences(t, "")

	handled := make(chan struct{})
	router := f.server.Router()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(handled)
		router.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/train?id="+testModel, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	first, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil || first != "Training started\n" {
		t.Fatalf("first line = %q, %v", first, err)
	}
	cancel()
	_ = resp.Body.Close()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handler still streaming after the client left")
	}
	if !f.runner.Busy(testModel) {
		t.Fatal("job stopped with the client")
	}

	close(release)
	f.runner.Wait()
	if f.runner.Busy(testModel) {
		t.Fatal("model still busy after the job finished")
	}
	list, err := f.store.ListJobs(context.Background(), testModel, 1)
	if err != nil || len(list) != 1 || list[0].Status != model.JobDone || list[0].FinishedAt == nil {
		t.Fatalf("history = %+v, %v", list, err)
	}
}

func TestSentencesValidationAndSave(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/sentences?id="+testModel, url.Values{"sentences": {"lists: {}\n"}})
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Missing sentences block") {
		t.Fatalf("invalid save = %d %s", resp.StatusCode, body)
	}
	if f.layout.HasSentences(testModel, "") {
		t.Fatal("invalid sentences were written")
	}

	text := "sentences:\n  - what time is it\n"
	resp, _ = f.do(t, http.MethodPost, "/sentences?id="+testModel+"&suffix=office", url.Values{"sentences": {text}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/manage?id="+testModel+"&suffix=office" {
		t.Fatalf("location = %q", loc)
	}
	saved, err := f.layout.ReadSentences(testModel, "office")
	if err != nil || saved != text {
		t.Fatalf("saved = %q, %v", saved, err)
	}

	resp, body = f.do(t, http.MethodGet, "/sentences?id="+testModel+"&suffix=office", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "what time is it") {
		t.Fatalf("get = %d %s", resp.StatusCode, body)
	}
}

func TestIngressRedirect(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.Ingress = true })
	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/sentences?id="+testModel,
		strings.NewReader(url.Values{"sentences": {"sentences: [hi]"}}.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Ingress-Path", "/api/hassio_ingress/abc/")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/api/hassio_ingress/abc/manage?id="+testModel {
		t.Fatalf("location = %q", loc)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)
	f.writeSentences(t, "")
	for _, dir := range []string{f.layout.ModelDataDir(testModel), f.layout.ModelTrainDir(testModel, "")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	resp, _ := f.do(t, http.MethodPost, "/delete?id="+testModel, nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("delete = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if f.layout.IsDownloaded(testModel) {
		t.Fatal("model dir still present")
	}
	if _, err := os.Stat(f.layout.ModelTrainDir(testModel, "")); !os.IsNotExist(err) {
		t.Fatalf("train dir still present: %v", err)
	}

	resp, _ = f.do(t, http.MethodGet, "/delete?id=../etc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal status = %d", resp.StatusCode)
	}
}

func TestWordsPage(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.Guesser = stubGuesser{"dog": "d aa g"} })
	if err := os.MkdirAll(f.layout.ModelDataDir(testModel), 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := lexicon.Create(f.layout.LexiconPath(testModel))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"k ae t", "k a t"} {
		if err := db.Add(context.Background(), "cat", strings.Fields(p)); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	resp, body := f.do(t, http.MethodPost, "/words?id="+testModel, url.Values{"words": {"cat dog"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	body = html.UnescapeString(body)
	if !strings.Contains(body, "cat: \"/k ae t/\"\ncat: \"/k a t/\"\n") {
		t.Fatalf("found block missing:\n%s", body)
	}
	if !strings.Contains(body, "dog: \"/d aa g/\"\n") {
		t.Fatalf("guessed block missing:\n%s", body)
	}

	resp, body = f.do(t, http.MethodPost, "/words?id=de_DE-rhasspy", url.Values{"words": {"hallo"}})
	if resp.StatusCode != http.StatusInternalServerError || !strings.HasPrefix(body, "lexicon: ") {
		t.Fatalf("missing lexicon = %d %q", resp.StatusCode, body)
	}
}

func TestIndexAndManagePages(t *testing.T) {
	f := newFixture(t, nil)
	if err := os.MkdirAll(f.layout.ModelDataDir(testModel), 0o755); err != nil {
		t.Fatal(err)
	}
	f.writeSentences(t, "")
	f.writeSentences(t, "office")

	resp, body := f.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "/manage?id="+testModel) || !strings.Contains(body, "/download?id=de_DE-rhasspy") {
		t.Fatalf("index links missing:\n%s", body)
	}

	resp, body = f.do(t, http.MethodGet, "/manage?id="+testModel, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "suffix=office") || !strings.Contains(body, `id="train"`) {
		t.Fatalf("manage = %d\n%s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/manage?id=de_DE-rhasspy", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("manage undownloaded = %d", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/download?id=de_DE-rhasspy", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Download de_DE-rhasspy") {
		t.Fatalf("download page = %d\n%s", resp.StatusCode, body)
	}
}

func TestHassExposedWithoutToken(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/api/hass_exposed", nil)
	if resp.StatusCode != http.StatusOK || body != "No Home Assistant token" {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
}
