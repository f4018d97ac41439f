package validate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/iland112/local-pkd-sub003/core"
	"github.com/iland112/local-pkd-sub003/ldapdir"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
	"github.com/iland112/local-pkd-sub003/test"
)

type memCerts struct {
	mu   sync.Mutex
	rows map[string]*core.Certificate
}

func newMemCerts() *memCerts { return &memCerts{rows: map[string]*core.Certificate{}} }

func (m *memCerts) Upsert(ctx context.Context, c *core.Certificate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[c.FingerprintSHA256]; ok {
		return false, nil
	}
	m.rows[c.FingerprintSHA256] = c
	return true, nil
}

func (m *memCerts) FindBySubjectDN(ctx context.Context, certType core.CertType, normalizedSubjectDN string) (*core.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.Type == certType && core.CanonicalDN(c.SubjectDN) == normalizedSubjectDN {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memCerts) MarkUploadedToLDAP(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		for _, id := range ids {
			if c.ID == id {
				c.UploadedToLDAP = true
			}
		}
	}
	return nil
}

func (m *memCerts) CountByUpload(ctx context.Context, uploadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.rows {
		if c.UploadID == uploadID {
			n++
		}
	}
	return n, nil
}

type memCRLs struct {
	mu   sync.Mutex
	rows []*core.CRL
}

func (m *memCRLs) Upsert(ctx context.Context, c *core.CRL) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, c)
	return true, nil
}

func (m *memCRLs) FindCoveringIssuer(ctx context.Context, normalizedIssuerDN string) ([]*core.CRL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.CRL
	for _, c := range m.rows {
		if core.CanonicalDN(c.IssuerName) == normalizedIssuerDN {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeLdap struct {
	mu          sync.Mutex
	batches     [][]core.LdifEntry
	masterLists []*core.MasterList
	failNext    bool
}

func (f *fakeLdap) PublishBatch(ctx context.Context, entries []core.LdifEntry) (core.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, entries)
	if f.failNext {
		f.failNext = false
		return core.BatchResult{}, context.DeadlineExceeded
	}
	outcomes := make(map[string]core.AddOutcome, len(entries))
	for _, e := range entries {
		outcomes[e.SourceCertID] = core.AddOutcomeAdded
	}
	return core.BatchResult{SuccessCount: len(entries), Outcomes: outcomes}, nil
}

func (f *fakeLdap) PublishMasterList(ctx context.Context, ml *core.MasterList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masterLists = append(f.masterLists, ml)
	return nil
}

func (f *fakeLdap) FindCSCAByDN(ctx context.Context, country, issuerDN string) ([]byte, error) {
	return nil, nil
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

type memUploads struct {
	mu      sync.Mutex
	records map[string]*core.UploadRecord
}

func newMemUploads() *memUploads { return &memUploads{records: map[string]*core.UploadRecord{}} }

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
	return nil
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

func newTestValidateService(certs *memCerts, crls *memCRLs, uploads *memUploads, ldap *fakeLdap, bus *memBus, clk clock.Clock) *Service {
	return NewService(certs, crls, uploads, ldap, bus, nil, &seqIDs{pre: "c-"}, clk, ldapdir.Config{BaseDN: "dc=ldap,dc=smartcoreinc,dc=com"}, 10, false, nil, blog.NewMock(), metrics.NewNoopScope())
}

func certVO(t *testing.T, certType core.CertType, der []byte) core.CertValueObject {
	return core.CertValueObject{Type: certType, SourceType: core.SourceLDIF, RawDER: der}
}

func TestValidateUploadPersistsAndPublishesCSCA(t *testing.T) {
	_, der, _ := selfSignedCSCA(t, "DE", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	certs := newMemCerts()
	crls := &memCRLs{}
	uploads := newMemUploads()
	ldap := &fakeLdap{}
	bus := newMemBus()
	clk := clock.NewFake()
	clk.Set(time.Now())

	rec := &core.UploadRecord{ID: "u1", Status: core.StatusParsing}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload")

	svc := newTestValidateService(certs, crls, uploads, ldap, bus, clk)

	err := svc.ValidateUpload(context.Background(), core.ParsingCompletedPayload{
		UploadID:       "u1",
		Mode:           core.ModeAuto,
		ExtractedCerts: []core.CertValueObject{certVO(t, core.CertCSCA, der)},
	})
	test.AssertNotError(t, err, "validating upload")

	got, _ := uploads.Get(context.Background(), "u1")
	test.AssertEquals(t, got.Status, core.StatusCompleted)
	test.AssertEquals(t, len(ldap.batches), 1)
	test.AssertEquals(t, len(ldap.batches[0]), 1)
	test.AssertEquals(t, len(bus.fired[core.EventValidationCompleted]), 1)
	test.AssertEquals(t, len(bus.fired[core.EventPublicationCompleted]), 1)
}

func TestValidateUploadSkipsLDAPPublishForMasterListSourcedCerts(t *testing.T) {
	_, der, _ := selfSignedCSCA(t, "DE", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	certs := newMemCerts()
	crls := &memCRLs{}
	uploads := newMemUploads()
	ldap := &fakeLdap{}
	bus := newMemBus()
	clk := clock.NewFake()
	clk.Set(time.Now())

	rec := &core.UploadRecord{ID: "u2", Status: core.StatusParsing}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload")

	svc := newTestValidateService(certs, crls, uploads, ldap, bus, clk)

	vo := certVO(t, core.CertCSCA, der)
	vo.SourceType = core.SourceMasterList

	err := svc.ValidateUpload(context.Background(), core.ParsingCompletedPayload{
		UploadID:       "u2",
		Mode:           core.ModeAuto,
		ExtractedCerts: []core.CertValueObject{vo},
	})
	test.AssertNotError(t, err, "validating upload")
	test.AssertEquals(t, len(ldap.batches), 0)
}

func TestValidateUploadSpillsBatchOnPublishFailure(t *testing.T) {
	_, der, _ := selfSignedCSCA(t, "DE", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	certs := newMemCerts()
	crls := &memCRLs{}
	uploads := newMemUploads()
	ldap := &fakeLdap{failNext: true}
	bus := newMemBus()
	clk := clock.NewFake()
	clk.Set(time.Now())

	rec := &core.UploadRecord{ID: "u3", Status: core.StatusParsing}
	test.AssertNotError(t, uploads.Insert(context.Background(), rec), "seeding upload")

	dir := t.TempDir()
	spill, err := OpenSpillQueue(dir)
	test.AssertNotError(t, err, "opening spill queue")
	defer spill.Close()

	svc := newTestValidateService(certs, crls, uploads, ldap, bus, clk)
	svc.Spill = spill

	err = svc.ValidateUpload(context.Background(), core.ParsingCompletedPayload{
		UploadID:       "u3",
		Mode:           core.ModeAuto,
		ExtractedCerts: []core.CertValueObject{certVO(t, core.CertCSCA, der)},
	})
	test.AssertNotError(t, err, "validating upload despite publish failure")
	test.AssertEquals(t, spill.Len(), uint64(1))
}
