package esstore

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// ConnManager owns one Elasticsearch client shared by all store instances,
// avoiding duplicate sockets and auth handshakes. The client is built lazily
// on the first Acquire and torn down when the last Lease is released.
//
// Construction and teardown are serialized by a single mutex so concurrent
// acquirers never race to build two clients and a release never closes a
// connection still in use.
type ConnManager struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	client    *elasticsearch.Client
	transport *http.Transport
	prov      *Provisioner
	refs      int
}

// NewConnManager creates a manager from config. The connection target is not
// validated here; a missing target surfaces as ErrNotConfigured on the first
// Acquire.
func NewConnManager(cfg Config, log *zap.Logger) (*ConnManager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnManager{cfg: cfg, log: log.Named("esstore")}, nil
}

// Lease is a reference-counted ownership guard for the shared client.
// Release is idempotent and must be called on all exit paths; the underlying
// connection is closed when the last lease is released.
type Lease struct {
	mgr    *ConnManager
	client *elasticsearch.Client
	prov   *Provisioner
	once   sync.Once
}

// Client returns the shared Elasticsearch client.
func (l *Lease) Client() *elasticsearch.Client { return l.client }

// Provisioner returns the index provisioner bound to the shared client.
func (l *Lease) Provisioner() *Provisioner { return l.prov }

// Release decrements the connection reference count. Safe to call more than
// once; only the first call counts.
func (l *Lease) Release() {
	l.once.Do(l.mgr.release)
}

// Acquire returns a lease on the shared client, building it on first use.
// Fails with ErrNotConfigured when no connection target is configured.
func (m *ConnManager) Acquire() (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		client, transport, err := m.connect()
		if err != nil {
			return nil, err
		}
		m.client = client
		m.transport = transport
		m.prov = newProvisioner(client, m.cfg, m.log)
		m.log.Info("connected to elasticsearch", zap.String("target", m.cfg.Elasticsearch.target()))
	}

	m.refs++
	return &Lease{mgr: m, client: m.client, prov: m.prov}, nil
}

func (m *ConnManager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs > 0 {
		return
	}

	if m.transport != nil {
		m.transport.CloseIdleConnections()
	}
	m.client = nil
	m.transport = nil
	m.prov = nil
	m.log.Info("closed elasticsearch connection")
}

// connect builds the client from configuration. Called with m.mu held.
func (m *ConnManager) connect() (*elasticsearch.Client, *http.Transport, error) {
	es := m.cfg.Elasticsearch

	escfg := elasticsearch.Config{}
	switch {
	case es.CloudID != "":
		escfg.CloudID = es.CloudID
	case es.URL != "":
		escfg.Addresses = []string{es.URL}
	default:
		return nil, nil, ErrNotConfigured
	}

	switch {
	case es.APIKey != "":
		escfg.APIKey = es.APIKey
	case es.Username != "":
		escfg.Username = es.Username
		escfg.Password = es.Password
	}

	var transport *http.Transport
	if es.VerifyCerts == nil || *es.VerifyCerts {
		if es.CACerts != "" {
			pem, err := os.ReadFile(es.CACerts)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: reading CA bundle %s: %v", ErrConnectionFailed, es.CACerts, err)
			}
			escfg.CACert = pem
		}
	} else {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // operator-controlled toggle
		}
		escfg.Transport = transport
		m.log.Warn("TLS certificate verification disabled")
	}

	client, err := elasticsearch.NewClient(escfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return client, transport, nil
}

// target describes the connection target for logging.
func (c ElasticsearchConfig) target() string {
	if c.CloudID != "" {
		return "cloud:" + c.CloudID
	}
	return c.URL
}
