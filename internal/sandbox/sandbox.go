// Package sandbox implements the Sandbox Manager (C2): it creates, tracks,
// and destroys the isolated execution environment backing a task, and
// exposes the shell/file/browser façade calls the Tool Adapters dispatch
// into. The Manager never runs user code itself — every façade call is an
// HTTP (or CDP, for browser) round trip to services already running inside
// the sandbox.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskforge/engine/pkg/models"
)

// ErrNotFound is returned by Get for an unknown sandbox ID.
var ErrNotFound = errors.New("sandbox: not found")

// Backend creates and destroys the underlying container/VM and reports the
// host-side port map for its exposed services. Docker and Firecracker
// backends both implement this; the Manager is backend-agnostic above it.
type Backend interface {
	// Start launches a new sandbox named id and returns the backing
	// identity plus the host port for each logical service ("shell",
	// "file", "browser").
	Start(ctx context.Context, id string, cfg Config) (backingID string, ports map[string]int, err error)

	// Stop tears down the sandbox named id. Stopping an already-stopped
	// sandbox is a no-op.
	Stop(ctx context.Context, backingID string) error
}

// Config bounds a single sandbox's resource envelope.
type Config struct {
	Image          string
	CPULimit       float64
	MemoryLimitMB  int
	WorkSizeMB     int
	NetworkEnabled bool
	Lifetime       time.Duration
	HealthRetries  int
	HealthInterval time.Duration
}

// Manager owns the lookup table of live sandboxes. The Orchestrator that
// creates a sandbox exclusively owns it; the Manager's table is a weak
// reference used only for destroy-by-ID and shutdown sweep.
type Manager struct {
	backend Backend
	client  *FacadeClient
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	sandboxes map[string]*entry
}

type entry struct {
	sandbox   *models.Sandbox
	backingID string
	destroyAt *time.Timer
}

// New builds a Manager bound to a backend and default per-sandbox config.
func New(backend Backend, config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.HealthRetries <= 0 {
		config.HealthRetries = 30
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = time.Second
	}
	if config.Lifetime <= 0 {
		config.Lifetime = time.Hour
	}
	return &Manager{
		backend:   backend,
		client:    NewFacadeClient(),
		config:    config,
		logger:    logger.With("component", "sandbox_manager"),
		sandboxes: make(map[string]*entry),
	}
}

// Create starts a new sandbox identified by sandboxID (one per task, so
// sandboxID is conventionally the owning task's ID), probes every exposed
// service's health endpoint until all respond or the retry budget is
// exhausted, and arms a deferred destroy at config.Lifetime.
func (m *Manager) Create(ctx context.Context, sandboxID string) (*models.Sandbox, error) {
	m.mu.Lock()
	if _, exists := m.sandboxes[sandboxID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("sandbox: %s already exists", sandboxID)
	}
	m.mu.Unlock()

	backingID, ports, err := m.backend.Start(ctx, sandboxID, m.config)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create %s: %w", sandboxID, err)
	}

	sb := &models.Sandbox{
		ID:          sandboxID,
		ContainerID: backingID,
		Status:      models.SandboxCreating,
		Ports:       ports,
		CreatedAt:   time.Now(),
		DestroyAt:   time.Now().Add(m.config.Lifetime),
	}

	if err := m.waitHealthy(ctx, sb); err != nil {
		_ = m.backend.Stop(context.Background(), backingID)
		sb.Status = models.SandboxError
		return nil, fmt.Errorf("sandbox: %s failed health probe: %w", sandboxID, err)
	}
	sb.Status = models.SandboxRunning

	e := &entry{sandbox: sb, backingID: backingID}
	e.destroyAt = time.AfterFunc(m.config.Lifetime, func() {
		if err := m.Destroy(context.Background(), sandboxID); err != nil {
			m.logger.Warn("deferred sandbox destroy failed", "sandbox_id", sandboxID, "error", err)
		}
	})

	m.mu.Lock()
	m.sandboxes[sandboxID] = e
	m.mu.Unlock()

	return sb, nil
}

func (m *Manager) waitHealthy(ctx context.Context, sb *models.Sandbox) error {
	for attempt := 0; attempt < m.config.HealthRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.HealthInterval):
			}
		}
		if m.client.ProbeAll(ctx, sb.Ports) {
			return nil
		}
	}
	return fmt.Errorf("services did not become healthy within %d attempts", m.config.HealthRetries)
}

// Get returns the live sandbox record for id, or ErrNotFound.
func (m *Manager) Get(id string) (*models.Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sandboxes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.sandbox, nil
}

// Destroy stops and removes the sandbox container, then removes the lookup
// entry. The entry is removed before the stop call returns so a concurrent
// second Destroy call observes it as already gone rather than racing the
// teardown. Destroying an unknown ID is a no-op warning, not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sandboxes[id]
	if ok {
		delete(m.sandboxes, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("destroy called on unknown sandbox", "sandbox_id", id)
		return nil
	}
	if e.destroyAt != nil {
		e.destroyAt.Stop()
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.backend.Stop(stopCtx, e.backingID); err != nil {
		return fmt.Errorf("sandbox: destroy %s: %w", id, err)
	}
	return nil
}

// ExecuteShell runs command inside the sandbox named id.
func (m *Manager) ExecuteShell(ctx context.Context, id, command string, timeout time.Duration, cwd string) (*ShellResult, error) {
	sb, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.client.ExecuteShell(ctx, sb.Ports, command, timeout, cwd)
}

// ReadFile reads path from the sandbox named id.
func (m *Manager) ReadFile(ctx context.Context, id, path string) (*FileResult, error) {
	sb, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.client.ReadFile(ctx, sb.Ports, path)
}

// WriteFile writes content to path inside the sandbox named id.
func (m *Manager) WriteFile(ctx context.Context, id, path, content string) (*FileResult, error) {
	sb, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.client.WriteFile(ctx, sb.Ports, path, content)
}

// ListDirectory lists path inside the sandbox named id.
func (m *Manager) ListDirectory(ctx context.Context, id, path string) (*FileResult, error) {
	sb, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.client.ListDirectory(ctx, sb.Ports, path)
}

// ExecuteBrowser drives the sandbox named id's headless-Chrome instance.
func (m *Manager) ExecuteBrowser(ctx context.Context, id string, action BrowserAction) (*BrowserResult, error) {
	sb, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.client.ExecuteBrowser(ctx, sb.Ports, action)
}

// Shutdown destroys every live sandbox concurrently. Failures are logged,
// not returned, so one stubborn container never blocks process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Destroy(ctx, id); err != nil {
				m.logger.Error("shutdown sandbox destroy failed", "sandbox_id", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}
