package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/test"
)

type memStore struct {
	mu      sync.Mutex
	byID    map[string]*core.UploadRecord
	byPrint map[string]*core.UploadRecord
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*core.UploadRecord{}, byPrint: map[string]*core.UploadRecord{}}
}

func (m *memStore) Insert(ctx context.Context, rec *core.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[rec.ID] = rec
	m.byPrint[rec.ContentFingerprint] = rec
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*core.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (m *memStore) GetByFingerprint(ctx context.Context, fingerprint string) (*core.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byPrint[fingerprint]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id string, status core.UploadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.byID[id]; ok {
		rec.Status = status
	}
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, id, stage, message string) error {
	return nil
}

func (m *memStore) SetManualPauseStep(ctx context.Context, id, step string) error { return nil }

func (m *memStore) SetMasterListUntrustedSigner(ctx context.Context, id string) error { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type memBus struct {
	mu        sync.Mutex
	published []string
}

func (b *memBus) Subscribe(eventName string, handler func(ctx context.Context, payload interface{})) {
}

func (b *memBus) Publish(ctx context.Context, eventName string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, eventName)
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return time.Unix(int64(s.n), 0).Format("20060102150405")
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[string][]byte{}} }

func (b *memBlobs) Put(ctx context.Context, uploadID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[uploadID] = data
	return nil
}

func (b *memBlobs) Get(ctx context.Context, uploadID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[uploadID], nil
}

func newTestService() (*Service, *memStore, *memBus) {
	store := newMemStore()
	bus := &memBus{}
	svc := NewService(store, newMemBlobs(), bus, &seqIDs{}, fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, blog.NewMock(), metrics.NewNoopScope())
	return svc, store, bus
}

func TestUploadAcceptsNewLDIF(t *testing.T) {
	svc, _, bus := newTestService()
	data := []byte("dn: c=DE,dc=data,dc=download,dc=pkd\nobjectClass: top\n")

	res, err := svc.Upload(context.Background(), "sample.ldif", data, "", core.ModeAuto, false)
	test.AssertNotError(t, err, "expected clean upload to succeed")
	test.AssertTrue(t, res.UploadID != "", "expected a generated upload id")
	test.AssertEquals(t, string(res.DuplicateStatus), string(DuplicateNone))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	test.AssertEquals(t, len(bus.published), 1)
	test.AssertEquals(t, bus.published[0], core.EventFileUploaded)
}

func TestUploadRejectsOversize(t *testing.T) {
	svc, _, _ := newTestService()
	data := make([]byte, MaxUploadBytes+1)

	_, err := svc.Upload(context.Background(), "huge.ldif", data, "", core.ModeAuto, false)
	test.AssertError(t, err, "expected oversize file to be rejected")
	var pkdErr *pkderrors.PkdError
	test.AssertErrorWraps(t, err, &pkdErr)
	test.AssertEquals(t, pkdErr.Type, pkderrors.Oversize)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	svc, _, _ := newTestService()
	data := []byte("not a recognizable payload at all")

	_, err := svc.Upload(context.Background(), "mystery.bin", data, "", core.ModeAuto, false)
	test.AssertError(t, err, "expected unrecognized format to be rejected")
	var pkdErr *pkderrors.PkdError
	test.AssertErrorWraps(t, err, &pkdErr)
	test.AssertEquals(t, pkdErr.Type, pkderrors.UnsupportedFormat)
}

func TestUploadDetectsExactDuplicate(t *testing.T) {
	svc, _, _ := newTestService()
	data := []byte("dn: c=DE,dc=data,dc=download,dc=pkd\nobjectClass: top\n")

	first, err := svc.Upload(context.Background(), "sample.ldif", data, "", core.ModeAuto, false)
	test.AssertNotError(t, err, "first upload should succeed")

	_, err = svc.Upload(context.Background(), "sample-again.ldif", data, "", core.ModeAuto, false)
	test.AssertError(t, err, "expected duplicate upload to be rejected")
	var pkdErr *pkderrors.PkdError
	test.AssertErrorWraps(t, err, &pkdErr)
	test.AssertEquals(t, pkdErr.Type, pkderrors.DuplicateUpload)
	_ = first
}

func TestUploadAllowsForceOverrideOfDuplicate(t *testing.T) {
	svc, _, _ := newTestService()
	data := []byte("dn: c=DE,dc=data,dc=download,dc=pkd\nobjectClass: top\n")

	_, err := svc.Upload(context.Background(), "sample.ldif", data, "", core.ModeAuto, false)
	test.AssertNotError(t, err, "first upload should succeed")

	res, err := svc.Upload(context.Background(), "sample.ldif", data, "", core.ModeAuto, true)
	test.AssertNotError(t, err, "force override should bypass duplicate rejection")
	test.AssertTrue(t, res.UploadID != "", "expected an upload id on override")
}

func TestUploadRejectsChecksumMismatch(t *testing.T) {
	svc, _, _ := newTestService()
	data := []byte("dn: c=DE,dc=data,dc=download,dc=pkd\nobjectClass: top\n")

	_, err := svc.Upload(context.Background(), "sample.ldif", data, "0000000000000000000000000000000000000000000000000000000000000000", core.ModeAuto, false)
	test.AssertError(t, err, "expected checksum mismatch to be rejected")
	var pkdErr *pkderrors.PkdError
	test.AssertErrorWraps(t, err, &pkdErr)
	test.AssertEquals(t, pkdErr.Type, pkderrors.ChecksumMismatch)
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name     string
		fileName string
		data     []byte
		want     core.DetectedFormat
	}{
		{"master list by name", "icaopkd-001-ml-000123.ml", []byte{0x30, 0x82, 0x01, 0x00}, core.FormatMasterList},
		{"ldif by extension", "dsccrl.ldif", []byte("dn: c=DE,dc=data\n"), core.FormatLDIF},
		{"der sniff fallback", "bundle.bin", []byte{0x30, 0x82, 0x02, 0x00}, core.FormatMasterList},
		{"ldif sniff fallback", "bundle.bin", []byte("version: 1\ndn: c=DE,dc=data\n"), core.FormatLDIF},
		{"unknown", "notes.txt", []byte("hello world"), core.FormatUnknown},
	}
	for _, c := range cases {
		got := DetectFormat(c.fileName, c.data)
		if got != c.want {
			t.Errorf("%s: DetectFormat(%q) = %s, want %s", c.name, c.fileName, got, c.want)
		}
	}
}
