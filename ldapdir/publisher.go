package ldapdir

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/golang/groupcache/lru"

	"github.com/iland112/local-pkd-sub003/core"
	pkderrors "github.com/iland112/local-pkd-sub003/errors"
	blog "github.com/iland112/local-pkd-sub003/log"
	"github.com/iland112/local-pkd-sub003/metrics"
)

// Publisher implements core.LdapPublisher. It owns the connection pool,
// the known-present-parent-DN cache, and the organizational node
// materialization walk spec.md §4.4 describes.
type Publisher struct {
	cfg            Config
	pool           *pool
	connectTimeout time.Duration
	readTimeout    time.Duration

	parentsMu   sync.Mutex
	parentsSeen *lru.Cache // bounded, last-write-wins per spec.md §5; groupcache's lru.Cache has no internal locking, hence parentsMu

	log   blog.Logger
	stats metrics.Scope
}

// NewPublisher dials no connections up front; the pool fills lazily.
// knownParentCacheSize bounds the known-present-parent-DN cache
// (config.LDAPConfig.KnownParentCacheSize); zero falls back to a sane
// default.
func NewPublisher(cfg Config, url, bindDN, bindPass string, minPool, maxPool int, connMaxAge, connectTimeout, readTimeout time.Duration, knownParentCacheSize int, log blog.Logger, stats metrics.Scope) *Publisher {
	if knownParentCacheSize <= 0 {
		knownParentCacheSize = 4096
	}
	return &Publisher{
		cfg:            cfg,
		pool:           newPool(url, bindDN, bindPass, minPool, maxPool, connMaxAge),
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		parentsSeen:    lru.New(knownParentCacheSize),
		log:            log,
		stats:          stats.NewScope("ldapdir"),
	}
}

// PublishBatch adds each entry, tolerating ALREADY_EXISTS as a benign
// duplicate per spec.md §4.4. Before adding a leaf, it materializes any
// missing organizational-node ancestors.
func (p *Publisher) PublishBatch(ctx context.Context, entries []core.LdifEntry) (core.BatchResult, error) {
	result := core.BatchResult{
		Outcomes: make(map[string]core.AddOutcome, len(entries)),
		Failures: make(map[string]error),
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.ensureParents(ctx, entry.DN); err != nil {
			result.FailedCount++
			result.Outcomes[entry.SourceCertID] = core.AddOutcomeFailed
			result.Failures[entry.SourceCertID] = fmt.Errorf("materializing parents of %s: %w", entry.DN, err)
			continue
		}

		outcome, err := p.add(ctx, entry)
		result.Outcomes[entry.SourceCertID] = outcome
		switch outcome {
		case core.AddOutcomeAdded:
			result.SuccessCount++
		case core.AddOutcomeDuplicateSkipped:
			result.SkippedDuplicateCount++
		case core.AddOutcomeFailed:
			result.FailedCount++
			result.Failures[entry.SourceCertID] = err
		}
	}

	return result, nil
}

// PublishMasterList publishes the single o=ml entry for a Master List
// upload (spec.md §4.4.1); its contained CSCAs are never passed here.
func (p *Publisher) PublishMasterList(ctx context.Context, ml *core.MasterList) error {
	entry := BuildMasterListEntry(ml, p.cfg)
	if err := p.ensureParents(ctx, entry.DN); err != nil {
		return fmt.Errorf("materializing parents of %s: %w", entry.DN, err)
	}
	outcome, err := p.add(ctx, entry)
	if outcome == core.AddOutcomeFailed {
		return err
	}
	return nil
}

// FindCSCAByDN implements spec.md §4.5 step 3: search
// o=csca,c={country},<pkdBase> for a pkdDownload entry whose cn matches
// issuerDN, returning the raw DER of its userCertificate;binary attribute.
func (p *Publisher) FindCSCAByDN(ctx context.Context, country, issuerDN string) ([]byte, error) {
	pc, err := p.pool.get()
	if err != nil {
		return nil, pkderrors.LdapServerError("acquiring connection: %s", err)
	}
	defer p.pool.put(pc)
	pc.conn.SetTimeout(p.readTimeout)

	baseDN := "o=csca,c=" + country + "," + dataBranch + "," + p.cfg.BaseDN
	filter := fmt.Sprintf("(&(objectClass=pkdDownload)(cn=%s))", escapeFilterValue(issuerDN))

	req := ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"userCertificate;binary"}, nil,
	)

	result, err := pc.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded) {
			return nil, pkderrors.LdapTimeoutError("searching for CSCA %s: %s", issuerDN, err)
		}
		return nil, pkderrors.LdapServerError("searching for CSCA %s: %s", issuerDN, err)
	}
	if len(result.Entries) == 0 {
		return nil, pkderrors.IssuerNotFoundError("no CSCA found for issuer DN %q in country %s", issuerDN, country)
	}
	return result.Entries[0].GetRawAttributeValue("userCertificate;binary"), nil
}

func (p *Publisher) add(ctx context.Context, entry core.LdifEntry) (core.AddOutcome, error) {
	pc, err := p.pool.get()
	if err != nil {
		return core.AddOutcomeFailed, pkderrors.LdapServerError("acquiring connection: %s", err)
	}
	defer p.pool.put(pc)
	pc.conn.SetTimeout(p.readTimeout)

	req := ldap.NewAddRequest(entry.DN, nil)
	req.Attribute("objectClass", entry.ObjectClass)
	for name, vals := range entry.Attrs {
		req.Attribute(name, vals)
	}
	for name, val := range entry.BinaryAttrs {
		req.Attribute(name, []string{string(val)})
	}

	if err := pc.conn.Add(req); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return core.AddOutcomeDuplicateSkipped, nil
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultTimeLimitExceeded) {
			return core.AddOutcomeFailed, pkderrors.LdapTimeoutError("adding %s: %s", entry.DN, err)
		}
		return core.AddOutcomeFailed, pkderrors.LdapServerError("adding %s: %s", entry.DN, err)
	}
	return core.AddOutcomeAdded, nil
}

// ensureParents walks dn's ancestor chain root-to-leaf, Adding a minimal
// organizationalUnit/country/domain entry for any that is missing. The
// known-present cache avoids redundant probes for DNs already confirmed
// present within this process's lifetime.
func (p *Publisher) ensureParents(ctx context.Context, dn string) error {
	chain := parentDNs(dn, p.cfg.BaseDN)
	for i := len(chain) - 1; i >= 0; i-- {
		parent := chain[i]
		if p.parentKnown(parent) {
			continue
		}
		if err := p.ensureOneParent(ctx, parent); err != nil {
			return err
		}
		p.markParentKnown(parent)
	}
	return nil
}

func (p *Publisher) parentKnown(dn string) bool {
	p.parentsMu.Lock()
	defer p.parentsMu.Unlock()
	_, ok := p.parentsSeen.Get(dn)
	return ok
}

func (p *Publisher) markParentKnown(dn string) {
	p.parentsMu.Lock()
	defer p.parentsMu.Unlock()
	p.parentsSeen.Add(dn, struct{}{})
}

func (p *Publisher) ensureOneParent(ctx context.Context, dn string) error {
	entry := minimalParentEntry(dn)
	outcome, err := p.add(ctx, entry)
	if outcome == core.AddOutcomeFailed {
		return err
	}
	return nil
}

// minimalParentEntry builds the smallest valid entry for one intermediate
// DIT node, inferring its structural object class from the leading RDN
// attribute type.
func minimalParentEntry(dn string) core.LdifEntry {
	attrType, value := splitLeadingRDN(dn)
	switch attrType {
	case "c":
		return core.LdifEntry{
			DN:          dn,
			ObjectClass: []string{"top", "country"},
			Attrs:       map[string][]string{"c": {value}},
		}
	case "dc":
		return core.LdifEntry{
			DN:          dn,
			ObjectClass: []string{"top", "domain"},
			Attrs:       map[string][]string{"dc": {value}},
		}
	default:
		return core.LdifEntry{
			DN:          dn,
			ObjectClass: []string{"top", "organizationalUnit"},
			Attrs:       map[string][]string{"ou": {value}},
		}
	}
}

func splitLeadingRDN(dn string) (attrType, value string) {
	rdn := dn
	if idx := strings.IndexByte(dn, ','); idx >= 0 {
		rdn = dn[:idx]
	}
	if idx := strings.IndexByte(rdn, '='); idx >= 0 {
		return strings.ToLower(rdn[:idx]), rdn[idx+1:]
	}
	return "", rdn
}

// escapeFilterValue escapes RFC 4515 special characters in an LDAP search
// filter value.
func escapeFilterValue(v string) string {
	replacer := strings.NewReplacer(
		`\`, `\5c`,
		`*`, `\2a`,
		`(`, `\28`,
		`)`, `\29`,
		"\x00", `\00`,
	)
	return replacer.Replace(v)
}
