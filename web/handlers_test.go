package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jmhodges/clock"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/pa"
	"github.com/iland112/local-pkd-sub003/progress"
	"github.com/iland112/local-pkd-sub003/test"
	"github.com/iland112/local-pkd-sub003/upload"
)

type memUploads struct {
	mu      sync.Mutex
	records map[string]*core.UploadRecord
}

func newMemUploads() *memUploads { return &memUploads{records: make(map[string]*core.UploadRecord)} }

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
func (m *memUploads) GetByFingerprint(ctx context.Context, fp string) (*core.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ContentFingerprint == fp {
			return r, nil
		}
	}
	return nil, nil
}
func (m *memUploads) UpdateStatus(ctx context.Context, id string, status core.UploadStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		r.Status = status
	}
	return nil
}
func (m *memUploads) MarkFailed(ctx context.Context, id, stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		r.Status = core.StatusFailed
		r.FailureStage = stage
		r.FailureMessage = message
	}
	return nil
}
func (m *memUploads) SetManualPauseStep(ctx context.Context, id, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		r.ManualPauseStep = step
	}
	return nil
}
func (m *memUploads) SetMasterListUntrustedSigner(ctx context.Context, id string) error { return nil }

type memCerts struct{ count int }

func (m *memCerts) Upsert(ctx context.Context, c *core.Certificate) (bool, error) { return true, nil }
func (m *memCerts) FindBySubjectDN(ctx context.Context, certType core.CertType, dn string) (*core.Certificate, error) {
	return nil, nil
}
func (m *memCerts) MarkUploadedToLDAP(ctx context.Context, ids []string) error { return nil }
func (m *memCerts) CountByUpload(ctx context.Context, uploadID string) (int, error) {
	return m.count, nil
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{data: make(map[string][]byte)} }

func (m *memBlobs) Put(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}
func (m *memBlobs) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id], nil
}

type memBus struct{}

func (m *memBus) Subscribe(eventName string, handler func(ctx context.Context, payload interface{})) {
}
func (m *memBus) Publish(ctx context.Context, eventName string, payload interface{}) {}

type fakeLdap struct{}

func (f *fakeLdap) FindCSCAByDN(ctx context.Context, country, issuerDN string) ([]byte, error) {
	return nil, nil
}
func (f *fakeLdap) PublishBatch(ctx context.Context, entries []core.LdifEntry) (core.BatchResult, error) {
	return core.BatchResult{}, nil
}
func (f *fakeLdap) PublishMasterList(ctx context.Context, ml *core.MasterList) error { return nil }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func newTestServer(t *testing.T) (*Server, *memUploads) {
	uploads := newMemUploads()
	blobs := newMemBlobs()
	bus := &memBus{}
	ids := &seqIDs{}
	clk := clock.NewFake()

	uploadSvc := upload.NewService(uploads, blobs, bus, ids, clk, log.NewMock(), metrics.NewNoopScope())
	progressSvc := progress.NewService("", log.NewMock(), metrics.NewNoopScope())
	paVerifier := pa.NewVerifier(&fakeLdap{}, log.NewMock(), metrics.NewNoopScope())

	return NewServer(uploadSvc, nil, nil, paVerifier, progressSvc, uploads, &memCerts{}, clk, log.NewMock(), metrics.NewNoopScope()), uploads
}

func multipartUploadBody(t *testing.T, fileName string, content []byte, mode string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", fileName)
	test.AssertNotError(t, err, "creating form file")
	_, err = part.Write(content)
	test.AssertNotError(t, err, "writing form file content")
	if mode != "" {
		test.AssertNotError(t, w.WriteField("mode", mode), "writing mode field")
	}
	test.AssertNotError(t, w.Close(), "closing multipart writer")
	return body, w.FormDataContentType()
}

func TestHandleUploadAccepted(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartUploadBody(t, "test.ldif", []byte("dn: o=test\nobjectClass: top\n\n"), "AUTO")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rw := httptest.NewRecorder()

	s.Handler().ServeHTTP(rw, req)
	test.AssertEquals(t, rw.Code, http.StatusOK)

	var resp uploadResponse
	test.AssertNotError(t, json.Unmarshal(rw.Body.Bytes(), &resp), "decoding response")
	test.AssertEquals(t, resp.DuplicateStatus, "NONE")
	test.AssertTrue(t, resp.UploadID != "", "expected non-empty uploadId")
}

func TestHandleUploadRejectsBadMode(t *testing.T) {
	s, _ := newTestServer(t)
	body, contentType := multipartUploadBody(t, "test.ldif", []byte("dn: o=test\n\n"), "BOGUS")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rw := httptest.NewRecorder()

	s.Handler().ServeHTTP(rw, req)
	test.AssertEquals(t, rw.Code, http.StatusBadRequest)
}

func TestHandleProcessingStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/processing/status/does-not-exist", nil)
	rw := httptest.NewRecorder()

	s.Handler().ServeHTTP(rw, req)
	test.AssertEquals(t, rw.Code, http.StatusNotFound)
}

func TestHandleProcessingStatusReturnsRecordedState(t *testing.T) {
	s, uploads := newTestServer(t)
	uploads.records["upload-1"] = &core.UploadRecord{ID: "upload-1", Status: core.StatusCompleted}

	req := httptest.NewRequest(http.MethodGet, "/processing/status/upload-1", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	test.AssertEquals(t, rw.Code, http.StatusOK)
	var resp statusResponse
	test.AssertNotError(t, json.Unmarshal(rw.Body.Bytes(), &resp), "decoding response")
	test.AssertEquals(t, resp.Status, "COMPLETED")
}

func TestHandleProcessingStepRejectsWrongPauseStep(t *testing.T) {
	s, uploads := newTestServer(t)
	uploads.records["upload-1"] = &core.UploadRecord{ID: "upload-1", ProcessingMode: core.ModeManual, ManualPauseStep: "parse"}

	req := httptest.NewRequest(http.MethodPost, "/processing/validate/upload-1", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	test.AssertEquals(t, rw.Code, http.StatusConflict)
}

func TestHandlePAVerifyRejectsBadCountryCode(t *testing.T) {
	s, _ := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"issuingCountry": "de",
		"sod":            "AAAA",
		"dataGroups":     map[string]string{"DG1": "AAAA"},
	})
	req := httptest.NewRequest(http.MethodPost, "/pa/verify", bytes.NewReader(reqBody))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	test.AssertEquals(t, rw.Code, http.StatusBadRequest)
}

func TestHandlePAVerifyRejectsInvalidDataGroupKey(t *testing.T) {
	s, _ := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"issuingCountry": "DE",
		"sod":            "AAAA",
		"dataGroups":     map[string]string{"DG99": "AAAA"},
	})
	req := httptest.NewRequest(http.MethodPost, "/pa/verify", bytes.NewReader(reqBody))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	test.AssertEquals(t, rw.Code, http.StatusBadRequest)
}

func TestHandlePAVerifyRejectsMalformedSOD(t *testing.T) {
	s, _ := newTestServer(t)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"issuingCountry": "DE",
		"sod":            "bm90IGEgc29k",
		"dataGroups":     map[string]string{"DG1": "AAAA"},
	})
	req := httptest.NewRequest(http.MethodPost, "/pa/verify", bytes.NewReader(reqBody))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	test.AssertEquals(t, rw.Code, http.StatusBadRequest)
}
