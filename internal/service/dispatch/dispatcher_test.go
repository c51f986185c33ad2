package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/events"
	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/recall"
	"recording-ingress-service/internal/service/transcripts"
	"recording-ingress-service/internal/store"
)

type fakeResolver struct {
	mu           sync.Mutex
	recordingID  string
	waitErr      error
	waitCalls    int
	arts         recall.Artifacts
	resolveCalls int
	entries      []recall.TranscriptEntry
	fetchErr     error
	fetchCalls   int
}

func (f *fakeResolver) WaitForRecordingID(_ context.Context, _ string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCalls++
	return f.recordingID, f.waitErr
}

func (f *fakeResolver) ResolveArtifacts(_ context.Context, _ string) recall.Artifacts {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	return f.arts
}

func (f *fakeResolver) FetchTranscript(_ context.Context, _ string) ([]recall.TranscriptEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.entries, f.fetchErr
}

type fakePusher struct {
	mu     sync.Mutex
	err    error
	pushes []models.RelayMessage
	keys   []string
}

func (f *fakePusher) Push(_ context.Context, externalID string, msg models.RelayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, externalID)
	f.pushes = append(f.pushes, msg)
	return f.err
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func newTestDispatcher(resolver *fakeResolver, pusher *fakePusher) (*Dispatcher, *store.MemoryStore) {
	st := store.NewMemory()
	gate := transcripts.NewGate(st, events.New(nil), zerolog.Nop())
	return New(st, gate, resolver, pusher, zerolog.Nop()), st
}

func newSession(t *testing.T, st *store.MemoryStore, externalID, botID string) *models.Session {
	t.Helper()
	sess := &models.Session{
		ExternalID: externalID,
		UserID:     "user-1",
		MeetingURL: "https://meet.example.com/abc",
		BotID:      botID,
	}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return sess
}

func liveEvent(externalID, speaker, text string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "transcript.data",
		"data": {
			"bot": {"id": "bot-1", "metadata": {"external_id": %q}},
			"data": {
				"words": [{"text": %q, "start_timestamp": {"absolute": %q}}],
				"participant": {"name": %q}
			}
		}
	}`, externalID, text, ts.Format(time.RFC3339Nano), speaker))
}

func TestHandleMalformedBody(t *testing.T) {
	d, _ := newTestDispatcher(&fakeResolver{}, &fakePusher{})
	if err := d.Handle([]byte(`{"event":`)); err == nil {
		t.Error("Handle() with malformed body should return error")
	}
	if err := d.Handle([]byte(`{"data": {}}`)); err == nil {
		t.Error("Handle() without an event kind should return error")
	}
}

func TestHandleReturnsBeforeProcessing(t *testing.T) {
	// An event for an unknown session must still be acknowledged.
	d, _ := newTestDispatcher(&fakeResolver{}, &fakePusher{})
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Handle(liveEvent("meeting-missing", "Alice", "hello", ts)); err != nil {
		t.Errorf("Handle() error = %v, want nil", err)
	}
	d.Drain()
}

func TestTranscriptDataPersistsAndPushes(t *testing.T) {
	pusher := &fakePusher{}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Handle(liveEvent("meeting-1", "Alice", "hello world", ts)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, err := st.FragmentsBySession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("FragmentsBySession() error = %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Text != "hello world" {
		t.Errorf("fragment text = %q, want %q", frags[0].Text, "hello world")
	}
	if frags[0].Speaker != "Alice" {
		t.Errorf("fragment speaker = %q, want %q", frags[0].Speaker, "Alice")
	}

	if pusher.count() != 1 {
		t.Fatalf("got %d pushes, want 1", pusher.count())
	}
	if pusher.keys[0] != "meeting-1" {
		t.Errorf("push key = %q, want %q", pusher.keys[0], "meeting-1")
	}
	if pusher.pushes[0].Type != "transcript" {
		t.Errorf("push type = %q, want %q", pusher.pushes[0].Type, "transcript")
	}
	if pusher.pushes[0].Payload.Text != "hello world" {
		t.Errorf("push text = %q, want %q", pusher.pushes[0].Payload.Text, "hello world")
	}
}

func TestTranscriptDataUnknownSessionDropped(t *testing.T) {
	pusher := &fakePusher{}
	d, _ := newTestDispatcher(&fakeResolver{}, pusher)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Handle(liveEvent("meeting-missing", "Alice", "hello", ts)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if pusher.count() != 0 {
		t.Errorf("got %d pushes, want 0", pusher.count())
	}
}

func TestTranscriptDataMissingExternalID(t *testing.T) {
	pusher := &fakePusher{}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "transcript.data",
		"data": {
			"bot": {"id": "bot-1", "metadata": {}},
			"data": {"words": [{"text": "hi"}]}
		}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 0 {
		t.Errorf("got %d fragments, want 0", len(frags))
	}
	if pusher.count() != 0 {
		t.Errorf("got %d pushes, want 0", pusher.count())
	}
}

func TestTranscriptDataDefaultSpeaker(t *testing.T) {
	pusher := &fakePusher{}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "transcript.data",
		"data": {
			"bot": {"id": "bot-1", "metadata": {"external_id": "meeting-1"}},
			"data": {"words": [{"text": "anonymous", "start_timestamp": {"absolute": "2024-05-01T10:00:00Z"}}]}
		}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Speaker != models.UnknownSpeaker {
		t.Errorf("fragment speaker = %q, want %q", frags[0].Speaker, models.UnknownSpeaker)
	}
	if pusher.pushes[0].Payload.Speaker != models.UnknownSpeaker {
		t.Errorf("push speaker = %q, want %q", pusher.pushes[0].Payload.Speaker, models.UnknownSpeaker)
	}
}

func TestTranscriptDataDuplicateStillPushes(t *testing.T) {
	pusher := &fakePusher{}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw := liveEvent("meeting-1", "Alice", "again", ts)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Errorf("got %d fragments after duplicate delivery, want 1", len(frags))
	}
	if pusher.count() != 2 {
		t.Errorf("got %d pushes, want 2 (relay delivery is not deduplicated)", pusher.count())
	}
}

func TestRelayFailureDoesNotBlockPersistence(t *testing.T) {
	pusher := &fakePusher{err: fmt.Errorf("connection refused")}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Handle(liveEvent("meeting-1", "Alice", "still saved", ts)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Errorf("got %d fragments, want 1", len(frags))
	}
}

func TestPartialDataIgnored(t *testing.T) {
	pusher := &fakePusher{}
	d, st := newTestDispatcher(&fakeResolver{}, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "transcript.partial_data",
		"data": {
			"bot": {"id": "bot-1", "metadata": {"external_id": "meeting-1"}},
			"data": {"words": [{"text": "partial"}]}
		}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 0 {
		t.Errorf("got %d fragments, want 0", len(frags))
	}
	if pusher.count() != 0 {
		t.Errorf("got %d pushes, want 0", pusher.count())
	}
}

func TestRecordingDoneResolvesAll(t *testing.T) {
	resolver := &fakeResolver{
		arts: recall.Artifacts{VideoURL: "https://cdn/video.mp4", AudioURL: "https://cdn/audio.mp3"},
		entries: []recall.TranscriptEntry{
			{
				Participant: &models.Participant{Name: "Bob"},
				Words: []models.Word{
					{Text: "full", StartTimestamp: &models.WordTimestamp{Absolute: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}},
					{Text: "transcript"},
				},
			},
		},
	}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "recording.done",
		"data": {
			"bot": {"id": "bot-1", "metadata": {"external_id": "meeting-1"}},
			"recording": {"id": "rec-1"}
		}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	got, err := st.SessionByExternalID(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("SessionByExternalID() error = %v", err)
	}
	if got.RecordingID != "rec-1" {
		t.Errorf("recording id = %q, want %q", got.RecordingID, "rec-1")
	}
	if got.VideoURL != "https://cdn/video.mp4" {
		t.Errorf("video url = %q, want %q", got.VideoURL, "https://cdn/video.mp4")
	}
	if got.AudioURL != "https://cdn/audio.mp3" {
		t.Errorf("audio url = %q, want %q", got.AudioURL, "https://cdn/audio.mp3")
	}

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Text != "full transcript" {
		t.Errorf("fragment text = %q, want %q", frags[0].Text, "full transcript")
	}
	if frags[0].Speaker != "Bob" {
		t.Errorf("fragment speaker = %q, want %q", frags[0].Speaker, "Bob")
	}
}

func TestRecordingDoneFindsSessionByRecordingID(t *testing.T) {
	resolver := &fakeResolver{}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")
	if _, err := st.SetRecordingIDIfAbsent(context.Background(), sess.ID, "rec-1"); err != nil {
		t.Fatalf("SetRecordingIDIfAbsent() error = %v", err)
	}

	// No bot block at all: the recording id is the only session hint.
	raw := []byte(`{"event": "transcript.done", "data": {"recording": {"id": "rec-1"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.resolveCalls != 1 {
		t.Errorf("resolve calls = %d, want 1", resolver.resolveCalls)
	}
	if resolver.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1", resolver.fetchCalls)
	}
}

func TestRecordingDoneMissingRecordingID(t *testing.T) {
	resolver := &fakeResolver{}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "recording.done",
		"data": {"bot": {"id": "bot-1", "metadata": {"external_id": "meeting-1"}}}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.resolveCalls != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.resolveCalls)
	}
}

func TestRecordingDoneUnknownSessionDropped(t *testing.T) {
	resolver := &fakeResolver{}
	d, _ := newTestDispatcher(resolver, &fakePusher{})

	raw := []byte(`{"event": "recording.done", "data": {"recording": {"id": "rec-unknown"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.resolveCalls != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.resolveCalls)
	}
}

func TestBotStatusCapturesRecordingID(t *testing.T) {
	resolver := &fakeResolver{}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "bot.status_change",
		"data": {"bot_id": "bot-1", "status": {"code": "in_call_recording", "recording_id": "rec-1"}}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	got, _ := st.SessionByBotID(context.Background(), "bot-1")
	if got.RecordingID != "rec-1" {
		t.Errorf("recording id = %q, want %q", got.RecordingID, "rec-1")
	}
	// Not a terminal state, no resolution yet.
	if resolver.resolveCalls != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.resolveCalls)
	}
}

func TestBotStatusDoneResolvesWithKnownID(t *testing.T) {
	resolver := &fakeResolver{arts: recall.Artifacts{AudioURL: "https://cdn/audio.mp3"}}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")
	if _, err := st.SetRecordingIDIfAbsent(context.Background(), sess.ID, "rec-1"); err != nil {
		t.Fatalf("SetRecordingIDIfAbsent() error = %v", err)
	}

	raw := []byte(`{"event": "bot.status_change", "data": {"bot_id": "bot-1", "status": {"code": "done"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.waitCalls != 0 {
		t.Errorf("wait calls = %d, want 0 (id was already known)", resolver.waitCalls)
	}
	if resolver.resolveCalls != 1 {
		t.Errorf("resolve calls = %d, want 1", resolver.resolveCalls)
	}
	got, _ := st.SessionByBotID(context.Background(), "bot-1")
	if got.AudioURL != "https://cdn/audio.mp3" {
		t.Errorf("audio url = %q, want %q", got.AudioURL, "https://cdn/audio.mp3")
	}
}

func TestBotStatusCallEndedRepollsForRecordingID(t *testing.T) {
	resolver := &fakeResolver{recordingID: "rec-late"}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{"event": "bot.status_change", "data": {"bot_id": "bot-1", "status": {"code": "call_ended"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.waitCalls != 1 {
		t.Errorf("wait calls = %d, want 1", resolver.waitCalls)
	}
	got, _ := st.SessionByBotID(context.Background(), "bot-1")
	if got.RecordingID != "rec-late" {
		t.Errorf("recording id = %q, want %q", got.RecordingID, "rec-late")
	}
	if resolver.resolveCalls != 1 {
		t.Errorf("resolve calls = %d, want 1", resolver.resolveCalls)
	}
}

func TestBotStatusDoneNoRecordingAfterRetries(t *testing.T) {
	resolver := &fakeResolver{recordingID: ""}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{"event": "bot.status_change", "data": {"bot_id": "bot-1", "status": {"code": "done"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.waitCalls != 1 {
		t.Errorf("wait calls = %d, want 1", resolver.waitCalls)
	}
	if resolver.resolveCalls != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.resolveCalls)
	}
}

func TestBotStatusRecordingIDWriteOnce(t *testing.T) {
	resolver := &fakeResolver{}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")
	if _, err := st.SetRecordingIDIfAbsent(context.Background(), sess.ID, "rec-first"); err != nil {
		t.Fatalf("SetRecordingIDIfAbsent() error = %v", err)
	}

	raw := []byte(`{
		"event": "bot.status_change",
		"data": {"bot_id": "bot-1", "status": {"code": "in_call_recording", "recording_id": "rec-second"}}
	}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	got, _ := st.SessionByBotID(context.Background(), "bot-1")
	if got.RecordingID != "rec-first" {
		t.Errorf("recording id = %q, want %q (first id wins)", got.RecordingID, "rec-first")
	}
}

func TestBotStatusMissingBotID(t *testing.T) {
	resolver := &fakeResolver{}
	d, _ := newTestDispatcher(resolver, &fakePusher{})

	raw := []byte(`{"event": "bot.status_change", "data": {"status": {"code": "done"}}}`)
	if err := d.Handle(raw); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	if resolver.waitCalls != 0 || resolver.resolveCalls != 0 {
		t.Error("status event without bot id should be ignored")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	d, _ := newTestDispatcher(&fakeResolver{}, &fakePusher{})
	if err := d.Handle([]byte(`{"event": "bot.joined_call", "data": {}}`)); err != nil {
		t.Errorf("Handle() error = %v, want nil", err)
	}
	d.Drain()
}

func TestDuplicateCompletionEventsIdempotent(t *testing.T) {
	resolver := &fakeResolver{
		arts: recall.Artifacts{VideoURL: "https://cdn/video.mp4"},
		entries: []recall.TranscriptEntry{
			{Words: []models.Word{{Text: "once", StartTimestamp: &models.WordTimestamp{Absolute: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}}}},
		},
	}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")

	raw := []byte(`{
		"event": "recording.done",
		"data": {
			"bot": {"id": "bot-1", "metadata": {"external_id": "meeting-1"}},
			"recording": {"id": "rec-1"}
		}
	}`)
	for i := 0; i < 3; i++ {
		if err := d.Handle(raw); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		d.Drain()
	}

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Errorf("got %d fragments after replayed completion, want 1", len(frags))
	}
}

func TestLateSegmentAfterTerminalStatus(t *testing.T) {
	// A live segment arriving after the terminal status has already been
	// processed must still be persisted; there is no ordering dependency.
	resolver := &fakeResolver{recordingID: "rec-1"}
	pusher := &fakePusher{}
	d, st := newTestDispatcher(resolver, pusher)
	sess := newSession(t, st, "meeting-1", "bot-1")

	done := []byte(`{"event": "bot.status_change", "data": {"bot_id": "bot-1", "status": {"code": "done"}}}`)
	if err := d.Handle(done); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Handle(liveEvent("meeting-1", "Alice", "late words", ts)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	d.Drain()

	frags, _ := st.FragmentsBySession(context.Background(), sess.ID)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Text != "late words" {
		t.Errorf("fragment text = %q, want %q", frags[0].Text, "late words")
	}
}

func TestRetrievePollsAndResolves(t *testing.T) {
	resolver := &fakeResolver{
		recordingID: "rec-1",
		arts:        recall.Artifacts{VideoURL: "https://cdn/video.mp4"},
	}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")

	arts, ok, err := d.Retrieve(context.Background(), sess)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !ok {
		t.Fatal("Retrieve() ok = false, want true")
	}
	if arts.VideoURL != "https://cdn/video.mp4" {
		t.Errorf("video url = %q, want %q", arts.VideoURL, "https://cdn/video.mp4")
	}
	got, _ := st.SessionByExternalID(context.Background(), "meeting-1")
	if got.RecordingID != "rec-1" {
		t.Errorf("recording id = %q, want %q", got.RecordingID, "rec-1")
	}
}

func TestRetrieveNoRecordingAvailable(t *testing.T) {
	resolver := &fakeResolver{recordingID: ""}
	d, st := newTestDispatcher(resolver, &fakePusher{})
	sess := newSession(t, st, "meeting-1", "bot-1")

	_, ok, err := d.Retrieve(context.Background(), sess)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if ok {
		t.Error("Retrieve() ok = true, want false")
	}
	if resolver.resolveCalls != 0 {
		t.Errorf("resolve calls = %d, want 0", resolver.resolveCalls)
	}
}
