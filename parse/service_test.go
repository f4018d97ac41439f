package parse

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/iland112/local-pkd-sub003/core"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/test"
)

type memUploads struct {
	mu      sync.Mutex
	records map[string]*core.UploadRecord
}

func newMemUploads() *memUploads {
	return &memUploads{records: map[string]*core.UploadRecord{}}
}

func (m *memUploads) Insert(ctx context.Context, rec *core.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memUploads) Get(ctx context.Context, id string) (*core.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id], nil
}

func (m *memUploads) GetByFingerprint(ctx context.Context, fingerprint string) (*core.UploadRecord, error) {
	return nil, nil
}

func (m *memUploads) UpdateStatus(ctx context.Context, id string, status core.UploadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.Status = status
	}
	return nil
}

func (m *memUploads) MarkFailed(ctx context.Context, id, stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.Status = core.StatusFailed
		rec.FailureStage = stage
		rec.FailureMessage = message
	}
	return nil
}

func (m *memUploads) SetManualPauseStep(ctx context.Context, id, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.ManualPauseStep = step
	}
	return nil
}

func (m *memUploads) SetMasterListUntrustedSigner(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.MasterListUntrustedSigner = true
	}
	return nil
}

type memMasterLists struct {
	mu   sync.Mutex
	rows []*core.MasterList
}

func (m *memMasterLists) Insert(ctx context.Context, ml *core.MasterList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, ml)
	return nil
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (m *memBlobs) Put(ctx context.Context, uploadID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[uploadID] = data
	return nil
}

func (m *memBlobs) Get(ctx context.Context, uploadID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[uploadID], nil
}

type memBus struct {
	mu       sync.Mutex
	handlers map[string][]func(ctx context.Context, payload interface{})
	fired    map[string][]interface{}
}

func newMemBus() *memBus {
	return &memBus{
		handlers: map[string][]func(ctx context.Context, payload interface{}){},
		fired:    map[string][]interface{}{},
	}
}

func (b *memBus) Subscribe(eventName string, handler func(ctx context.Context, payload interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

func (b *memBus) Publish(ctx context.Context, eventName string, payload interface{}) {
	b.mu.Lock()
	b.fired[eventName] = append(b.fired[eventName], payload)
	handlers := append([]func(ctx context.Context, payload interface{}){}, b.handlers[eventName]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(ctx, payload)
	}
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
	pre string
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.pre + string(rune('0'+s.n))
}

func newTestService(uploads *memUploads, blobs *memBlobs, bus *memBus) *Service {
	return NewService(blobs, uploads, &memMasterLists{}, bus, nil, &seqIDs{pre: "ml-"}, nil, 10, blog.NewMock(), metrics.NewNoopScope())
}

func TestServiceParsesLDIFUploadAndEmitsParsingCompleted(t *testing.T) {
	uploads := newMemUploads()
	blobs := newMemBlobs()
	bus := newMemBus()

	ldif := "dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd\n" +
		"userCertificate;binary:: " + base64.StdEncoding.EncodeToString([]byte("der-bytes")) + "\n\n"

	rec := &core.UploadRecord{ID: "u1", DetectedFormat: core.FormatLDIF, Status: core.StatusReceived}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload record")
	test.AssertNotError(t, blobs.Put(context.Background(), "u1", []byte(ldif)), "seeding blob")

	svc := newTestService(uploads, blobs, bus)

	err := svc.ParseUpload(context.Background(), "u1", core.ModeAuto)
	test.AssertNotError(t, err, "parsing LDIF upload")

	test.AssertEquals(t, len(bus.fired[core.EventParsingCompleted]), 1)
	payload := bus.fired[core.EventParsingCompleted][0].(core.ParsingCompletedPayload)
	test.AssertEquals(t, len(payload.ExtractedCerts), 1)

	got, _ := uploads.Get(context.Background(), "u1")
	test.AssertEquals(t, got.Status, core.StatusParsing)
}

func TestServiceFailsUploadOnZeroExtractedEntries(t *testing.T) {
	uploads := newMemUploads()
	blobs := newMemBlobs()
	bus := newMemBus()

	rec := &core.UploadRecord{ID: "u2", DetectedFormat: core.FormatLDIF, Status: core.StatusReceived}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload record")
	test.AssertNotError(t, blobs.Put(context.Background(), "u2", []byte("")), "seeding empty blob")

	svc := newTestService(uploads, blobs, bus)

	err := svc.ParseUpload(context.Background(), "u2", core.ModeAuto)
	test.AssertError(t, err, "empty LDIF should fail the upload")

	got, _ := uploads.Get(context.Background(), "u2")
	test.AssertEquals(t, got.Status, core.StatusFailed)
	test.AssertEquals(t, len(bus.fired[core.EventParsingCompleted]), 0)
}

func TestOnFileUploadedPausesInManualMode(t *testing.T) {
	uploads := newMemUploads()
	blobs := newMemBlobs()
	bus := newMemBus()

	rec := &core.UploadRecord{ID: "u3", DetectedFormat: core.FormatLDIF, Status: core.StatusReceived}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload record")

	svc := newTestService(uploads, blobs, bus)
	bus.Publish(context.Background(), core.EventFileUploaded, core.FileUploadedPayload{UploadID: "u3", Mode: core.ModeManual})

	got, _ := uploads.Get(context.Background(), "u3")
	test.AssertEquals(t, got.ManualPauseStep, "parse")
	test.AssertEquals(t, got.Status, core.StatusReceived)
}

func TestOnFileUploadedRunsParsingInAutoMode(t *testing.T) {
	uploads := newMemUploads()
	blobs := newMemBlobs()
	bus := newMemBus()

	ldif := "dn: o=DSC,c=DE,dc=data,dc=download,dc=pkd\n" +
		"userCertificate;binary:: " + base64.StdEncoding.EncodeToString([]byte("der-bytes")) + "\n\n"
	rec := &core.UploadRecord{ID: "u4", DetectedFormat: core.FormatLDIF, Status: core.StatusReceived}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload record")
	test.AssertNotError(t, blobs.Put(context.Background(), "u4", []byte(ldif)), "seeding blob")

	_ = newTestService(uploads, blobs, bus)
	bus.Publish(context.Background(), core.EventFileUploaded, core.FileUploadedPayload{UploadID: "u4", Mode: core.ModeAuto})

	test.AssertEquals(t, len(bus.fired[core.EventParsingCompleted]), 1)
}
