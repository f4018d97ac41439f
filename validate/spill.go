package validate

import (
	"fmt"

	"github.com/beeker1121/goque"

	"github.com/iland112/local-pkd-sub003/core"
)

// spillBatch is the durable record written when an LDAP batch cannot be
// submitted immediately (pool exhaustion, directory unreachable).
// Certificates are identified by ID only, so RawDER is not duplicated on
// disk; whoever drains a batch has to re-read the rows from CertificateStore.
type spillBatch struct {
	UploadID string
	Pass     string
	CertIDs  []string
}

// SpillQueue is the disk-backed overflow path spec.md §5's backpressure
// model implies ("a full channel blocks the parser"): rather than block
// the whole pipeline indefinitely on a saturated LDAP pool, a batch whose
// PublishBatch call returns an error is persisted here and the pass moves
// on. Nothing in this module drains the queue (DrainOne has no caller), so
// spilled batches are not retried automatically. Grounded
// on boulder's orphan-certificate retry queue in cmd/orphan-finder, which
// uses the same beeker1121/goque disk queue to survive a process restart
// without losing unsubmitted work.
type SpillQueue struct {
	q *goque.Queue
}

// OpenSpillQueue opens (creating if absent) a goque queue rooted at dir.
func OpenSpillQueue(dir string) (*SpillQueue, error) {
	q, err := goque.OpenQueue(dir)
	if err != nil {
		return nil, fmt.Errorf("opening spill queue at %s: %w", dir, err)
	}
	return &SpillQueue{q: q}, nil
}

// Spill persists one failed batch.
func (s *SpillQueue) Spill(uploadID, pass string, certs []*core.Certificate) error {
	ids := make([]string, len(certs))
	for i, c := range certs {
		ids[i] = c.ID
	}
	_, err := s.q.EnqueueObject(spillBatch{UploadID: uploadID, Pass: pass, CertIDs: ids})
	return err
}

// Len reports the number of spilled batches still queued.
func (s *SpillQueue) Len() uint64 {
	return s.q.Length()
}

// DrainOne pops the oldest spilled batch, or returns (nil, false) if the
// queue is empty.
func (s *SpillQueue) DrainOne() (*spillBatch, bool, error) {
	item, err := s.q.Dequeue()
	if err != nil {
		if err == goque.ErrEmpty {
			return nil, false, nil
		}
		return nil, false, err
	}
	var batch spillBatch
	if err := item.ToObject(&batch); err != nil {
		return nil, false, fmt.Errorf("decoding spilled batch: %w", err)
	}
	return &batch, true, nil
}

func (s *SpillQueue) Close() error {
	return s.q.Close()
}
