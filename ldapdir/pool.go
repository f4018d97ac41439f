package ldapdir

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// pool is a bounded set of bound *ldap.Conn, age-limited per spec.md §4.4
// ("pool of [3..20] LDAP connections with 15-minute age-out"). Modeled as a
// buffered channel of leased connections, the same shape boulder's
// publisher keeps one persistent *http.Client for CT submission — here
// generalized to a small pool because the directory, unlike a CT log, is
// addressed far more often per pipeline run.
type pool struct {
	url      string
	bindDN   string
	bindPass string
	maxAge   time.Duration
	min, max int

	mu    sync.Mutex
	conns chan *pooledConn
	count int
}

type pooledConn struct {
	conn    *ldap.Conn
	leaseAt time.Time
}

func newPool(url, bindDN, bindPass string, minSize, maxSize int, maxAge time.Duration) *pool {
	if minSize <= 0 {
		minSize = 3
	}
	if maxSize <= 0 {
		maxSize = 20
	}
	return &pool{
		url:      url,
		bindDN:   bindDN,
		bindPass: bindPass,
		maxAge:   maxAge,
		min:      minSize,
		max:      maxSize,
		conns:    make(chan *pooledConn, maxSize),
	}
}

func (p *pool) dial() (*pooledConn, error) {
	conn, err := ldap.DialURL(p.url)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", p.url, err)
	}
	if p.bindDN != "" {
		if err := conn.Bind(p.bindDN, p.bindPass); err != nil {
			conn.Close()
			return nil, fmt.Errorf("binding as %s: %w", p.bindDN, err)
		}
	}
	return &pooledConn{conn: conn, leaseAt: time.Now()}, nil
}

// get returns a leased connection, dialing a fresh one if the pool is
// empty or below max and no idle connection is available.
func (p *pool) get() (*pooledConn, error) {
	select {
	case pc := <-p.conns:
		if p.maxAge > 0 && time.Since(pc.leaseAt) > p.maxAge {
			pc.conn.Close()
			p.mu.Lock()
			p.count--
			p.mu.Unlock()
			return p.get()
		}
		return pc, nil
	default:
	}

	p.mu.Lock()
	if p.count >= p.max {
		p.mu.Unlock()
		pc := <-p.conns
		return pc, nil
	}
	p.count++
	p.mu.Unlock()

	pc, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, err
	}
	return pc, nil
}

// put returns a connection to the pool, or discards it (and frees its
// slot) if it is past its age-out.
func (p *pool) put(pc *pooledConn) {
	if p.maxAge > 0 && time.Since(pc.leaseAt) > p.maxAge {
		pc.conn.Close()
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return
	}
	select {
	case p.conns <- pc:
	default:
		pc.conn.Close()
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
	}
}

func (p *pool) discard(pc *pooledConn) {
	pc.conn.Close()
	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}
