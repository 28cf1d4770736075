package medtrum

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-medtrum/internal/config"
	"github.com/joshp123/gohome-medtrum/internal/core"
	"github.com/joshp123/gohome-medtrum/internal/rate"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const setupTimeout = 45 * time.Second

// loginBudget caps manual re-authentication so a retry loop in a client
// cannot lock the EasyView account.
var loginBudget = rate.Provider("medtrum_login").
	MaxRequestsPer(rate.Minute, 2).
	MaxRequestsPer(rate.Hour, 10)

var (
	_ core.Plugin         = (*Plugin)(nil)
	_ core.HTTPRegistrant = (*Plugin)(nil)
	_ core.Closer         = (*Plugin)(nil)
)

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	cfg         Config
	opts        []Option
	logger      *zap.Logger
	coordinator *Coordinator
	ha          *HomeAssistant
	loginGuard  *rate.Guard

	loopCtx     context.Context
	stopLoop    context.CancelFunc
	unsubscribe func()
	watching    <-chan struct{}

	// reauthMu serialises Reauthenticate calls.
	reauthMu sync.Mutex

	mu       sync.Mutex
	client   *Client
	session  *Session
	setupErr error
}

// NewPlugin constructs a Medtrum plugin from config. It logs in and runs the
// first refresh before returning, so a healthy plugin always has a snapshot.
func NewPlugin(cfg *config.MedtrumConfig, mqttCfg *config.MQTTConfig, logger *zap.Logger) (*Plugin, bool) {
	if cfg == nil {
		return nil, false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("medtrum")

	runtimeCfg, err := ConfigFromFile(cfg, mqttCfg)
	if err != nil {
		return &Plugin{logger: logger, setupErr: err}, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	return newPlugin(ctx, runtimeCfg, logger), true
}

func newPlugin(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) *Plugin {
	loopCtx, stop := context.WithCancel(context.Background())
	p := &Plugin{
		cfg:         cfg,
		opts:        append([]Option{WithLogger(logger.Named("client"))}, opts...),
		logger:      logger,
		coordinator: NewCoordinator(nil, cfg.RefreshInterval, logger.Named("coordinator")),
		loginGuard:  rate.NewGuard(loginBudget),
		loopCtx:     loopCtx,
		stopLoop:    stop,
	}

	if cfg.MQTT != nil {
		ha, err := NewHomeAssistant(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("home assistant publishing disabled", zap.Error(err))
		} else {
			p.attachHomeAssistant(ha)
		}
	}

	client, err := NewClient(cfg, p.opts...)
	if err != nil {
		p.setSetupErr(err)
		return p
	}
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	if err := p.connect(ctx, client, true); err != nil {
		logger.Error("medtrum setup failed", zap.Error(err))
		p.setSetupErr(err)
	}
	return p
}

func (p *Plugin) attachHomeAssistant(ha *HomeAssistant) {
	p.ha = ha
	p.unsubscribe = p.coordinator.OnUpdate(ha.Notify)
}

// connect logs in, runs the first refresh and (re)starts the loop. Only an
// authentication failure keeps the loop stopped; a transient first refresh
// is retried on the next tick. With retryLogin a transient login failure is
// retried the same way instead of being returned.
func (p *Plugin) connect(ctx context.Context, client *Client, retryLogin bool) error {
	started := time.Now()
	session, err := client.Login(ctx)
	if err != nil && (!retryLogin || errors.Is(err, ErrAuthentication)) {
		return fmt.Errorf("login: %w", err)
	}

	p.coordinator.Stop()
	if session != nil {
		p.logger.Debug("session established", zap.String("base_url", client.BaseURL()))
		p.coordinator.Rebind(session)
		p.setSession(session)

		if err := p.coordinator.FirstRefresh(ctx); err != nil {
			if errors.Is(err, ErrAuthentication) {
				return fmt.Errorf("first refresh: %w", err)
			}
			p.logger.Warn("first refresh failed; will retry on schedule", zap.Error(err))
		}
	} else {
		p.logger.Warn("login failed; will retry on schedule", zap.Error(err))
		p.coordinator.Rebind(&loginFetcher{client: client, onSession: p.setSession})
		p.coordinator.recordFailure(started, fmt.Errorf("login: %w", err))
	}

	p.coordinator.Start(p.loopCtx)
	failed := p.coordinator.AuthFailed()
	p.mu.Lock()
	watch := failed != p.watching
	p.watching = failed
	p.mu.Unlock()
	if watch {
		go p.watchAuth(failed)
	}
	return nil
}

func (p *Plugin) watchAuth(failed <-chan struct{}) {
	select {
	case <-p.loopCtx.Done():
	case <-failed:
		p.logger.Error("easyview session rejected; call Reauthenticate with valid credentials")
		if p.ha != nil {
			if err := p.ha.MarkOffline(); err != nil {
				p.logger.Warn("mqtt offline publish failed", zap.Error(err))
			}
		}
	}
}

func (p *Plugin) setSession(session *Session) {
	p.mu.Lock()
	p.session = session
	p.mu.Unlock()
}

// loginFetcher logs in on the first cycle that reaches the server, then
// fetches through the resulting session. Cycles are serialised by the
// coordinator, so session needs no lock.
type loginFetcher struct {
	client    *Client
	onSession func(*Session)
	session   *Session
}

func (f *loginFetcher) FetchStatus(ctx context.Context) (*Snapshot, error) {
	if f.session == nil {
		session, err := f.client.Login(ctx)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		f.session = session
		f.onSession(session)
	}
	return f.session.FetchStatus(ctx)
}

func (p *Plugin) setSetupErr(err error) {
	p.mu.Lock()
	p.setupErr = err
	p.mu.Unlock()
}

// Reauthenticate re-reads credentials, logs in again and restarts the loop.
// The current snapshot stays visible throughout.
func (p *Plugin) Reauthenticate(ctx context.Context) error {
	p.reauthMu.Lock()
	defer p.reauthMu.Unlock()

	if p.coordinator == nil {
		return errors.New("medtrum plugin is not configured")
	}
	if err := p.loginGuard.Allow(time.Now()); err != nil {
		return err
	}

	password, err := p.cfg.reloadPassword()
	if err != nil {
		return fmt.Errorf("reload password: %w", err)
	}
	cfg := p.cfg
	cfg.Password = password

	client, err := NewClient(cfg, p.opts...)
	if err != nil {
		p.setSetupErr(err)
		return err
	}
	if err := p.connect(ctx, client, false); err != nil {
		// A running loop without a session is already retrying the login.
		retrying := p.coordinator.Stats().Running
		p.mu.Lock()
		if errors.Is(err, ErrAuthentication) || (p.session == nil && !retrying) {
			p.setupErr = err
		}
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	p.client = client
	p.setupErr = nil
	p.mu.Unlock()
	p.logger.Info("re-authenticated")
	return nil
}

// Close stops the refresh loop. An in-flight fetch is allowed to finish.
func (p *Plugin) Close() error {
	if p.stopLoop != nil {
		p.stopLoop()
	}
	if p.coordinator != nil {
		p.coordinator.Stop()
	}
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.ha != nil {
		p.ha.Close()
	}
	return nil
}

func (p *Plugin) Coordinator() *Coordinator {
	return p.coordinator
}

func (p *Plugin) ID() string {
	return "medtrum"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "medtrum",
		DisplayName: "Medtrum EasyView",
		Version:     "0.1.0",
		Services:    []string{serviceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "medtrum-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) {
	if err := RegisterMedtrumService(server, p); err != nil {
		p.logger.Error("register grpc service", zap.Error(err))
	}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.coordinator == nil {
		return nil
	}
	return append([]prometheus.Collector{NewMetricsCollector(p.coordinator)}, rate.MetricsCollectors()...)
}

func (p *Plugin) Health() core.HealthStatus {
	health, _ := p.health()
	return health
}

func (p *Plugin) HealthMessage() string {
	_, message := p.health()
	return message
}

func (p *Plugin) health() (core.HealthStatus, string) {
	p.mu.Lock()
	setupErr := p.setupErr
	p.mu.Unlock()

	if p.coordinator == nil {
		if setupErr != nil {
			return core.HealthError, setupErr.Error()
		}
		return core.HealthError, "not configured"
	}

	stats := p.coordinator.Stats()
	switch {
	case stats.AuthFailed:
		return core.HealthError, fmt.Sprintf("re-authentication required: %v", stats.Last.Err)
	case setupErr != nil:
		return core.HealthError, setupErr.Error()
	case stats.Last.Kind.Transient():
		return core.HealthDegraded, fmt.Sprintf("last update failed, showing stale data: %v", stats.Last.Err)
	default:
		return core.HealthHealthy, ""
	}
}

// PluginStatus is the externally visible state of the plugin.
type PluginStatus struct {
	Health                 string            `json:"health"`
	Message                string            `json:"message,omitempty"`
	UID                    string            `json:"uid,omitempty"`
	RealName               string            `json:"realname,omitempty"`
	BaseURL                string            `json:"base_url,omitempty"`
	LastOutcome            string            `json:"last_outcome"`
	LastError              string            `json:"last_error,omitempty"`
	LastAttempt            string            `json:"last_attempt,omitempty"`
	LastSuccess            string            `json:"last_success,omitempty"`
	RefreshIntervalSeconds int64             `json:"refresh_interval_seconds"`
	Running                bool              `json:"running"`
	AuthFailed             bool              `json:"auth_failed"`
	Cycles                 map[string]uint64 `json:"cycles"`
}

func (p *Plugin) Status() PluginStatus {
	health, message := p.health()
	out := PluginStatus{
		Health:  string(health),
		Message: message,
		Cycles:  make(map[string]uint64),
	}

	p.mu.Lock()
	if p.session != nil {
		out.UID = p.session.UID()
		out.RealName = p.session.RealName()
	}
	if p.client != nil {
		out.BaseURL = p.client.BaseURL()
	}
	p.mu.Unlock()

	if p.coordinator == nil {
		out.LastOutcome = OutcomeNone.String()
		return out
	}
	stats := p.coordinator.Stats()
	out.LastOutcome = stats.Last.Kind.String()
	if stats.Last.Err != nil {
		out.LastError = stats.Last.Err.Error()
	}
	if !stats.Last.Started.IsZero() {
		out.LastAttempt = stats.Last.Started.UTC().Format(time.RFC3339)
	}
	if !stats.LastSuccess.IsZero() {
		out.LastSuccess = stats.LastSuccess.UTC().Format(time.RFC3339)
	}
	out.RefreshIntervalSeconds = int64(p.coordinator.Interval() / time.Second)
	out.Running = stats.Running
	out.AuthFailed = stats.AuthFailed
	for _, kind := range outcomeKinds {
		out.Cycles[kind.String()] = stats.Cycles[kind]
	}
	return out
}
