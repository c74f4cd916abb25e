package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/artifact"
	"github.com/opencode-ai/minicode/internal/config"
	"github.com/opencode-ai/minicode/internal/event"
	"github.com/opencode-ai/minicode/internal/plugin"
	"github.com/opencode-ai/minicode/internal/provider"
	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/storage"
	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

// SDKVersion is reported to plugins through their setup context.
const SDKVersion = "0.1.0"

// ModelFactory builds the model for a runtime selection.
type ModelFactory func(ctx context.Context, cfg *config.Config, sel types.RuntimeSelection) (runner.Model, error)

// ServiceOptions configures NewService.
type ServiceOptions struct {
	Config *config.Config
	Files  config.Files
	CWD    string

	// BuiltinActions reserves host command keys before plugin actions
	// are composed.
	BuiltinActions []plugin.BuiltinAction

	// Plugins overrides the plugin registry used to resolve references.
	Plugins *plugin.Registry

	// Repository defaults to an FsRepository at Config.Paths.SessionsDir.
	Repository storage.Repository

	// Bus receives lifecycle events. NewService creates one when nil and
	// closes it on Close.
	Bus *event.Bus

	// Models defaults to provider.NewModel.
	Models ModelFactory

	// Now returns the time in Unix milliseconds.
	Now func() int64

	// NewID generates session ids. Defaults to uuid v7.
	NewID func() string

	MaxSteps int
	Logger   zerolog.Logger
}

// Service hosts sessions: it owns the loaded plugins, the composed tool
// set, persistence and the event bus.
type Service struct {
	cfg         *config.Config
	cwd         string
	repo        storage.Repository
	artifacts   *artifact.FsStore
	bus         *event.Bus
	ownsBus     bool
	loaded      []*plugin.Loaded
	composition *plugin.Composition
	models      ModelFactory
	now         func() int64
	newID       func() string
	maxSteps    int
	logger      zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewService loads plugins and composes them with the builtin tools.
func NewService(ctx context.Context, opts ServiceOptions) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("session service requires a config")
	}
	cfg := opts.Config
	logger := opts.Logger.With().Str("component", "session").Logger()

	s := &Service{
		cfg:      cfg,
		cwd:      opts.CWD,
		repo:     opts.Repository,
		bus:      opts.Bus,
		models:   opts.Models,
		now:      opts.Now,
		newID:    opts.NewID,
		maxSteps: opts.MaxSteps,
		logger:   logger,
	}
	if s.now == nil {
		s.now = func() int64 { return time.Now().UnixMilli() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if s.models == nil {
		s.models = func(ctx context.Context, cfg *config.Config, sel types.RuntimeSelection) (runner.Model, error) {
			return provider.NewModel(ctx, cfg, sel, provider.Options{Logger: opts.Logger})
		}
	}
	if s.bus == nil {
		s.bus = event.NewBus(opts.Logger)
		s.ownsBus = true
	}
	if s.repo == nil {
		repo, err := storage.NewFsRepository(cfg.Paths.SessionsDir, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.repo = repo
	}

	store, err := artifact.NewFsStore(cfg.Paths.SessionsDir, artifact.Options{
		Now: func() time.Time { return time.UnixMilli(s.now()) },
		OnWrite: func(ref types.ArtifactReference) {
			s.publish(event.ArtifactStored, event.ArtifactStoredData{Artifact: ref})
		},
	})
	if err != nil {
		return nil, err
	}
	s.artifacts = store

	configs := make(map[string]plugin.Config, len(cfg.Plugins))
	for ref, c := range cfg.Plugins {
		configs[ref] = plugin.Config(c)
	}
	loaded, err := plugin.Load(ctx, plugin.LoadOptions{
		Plugins:         configs,
		CWD:             opts.CWD,
		GlobalConfigDir: opts.Files.GlobalConfigDir,
		SDKVersion:      SDKVersion,
		Registry:        opts.Plugins,
		Logger:          opts.Logger,
	})
	if err != nil {
		s.closeBus()
		return nil, err
	}

	builtins := tool.Builtins(tool.BuiltinOptions{CWD: opts.CWD, Limits: cfg.ToolLimits.Tool()})
	composition, err := plugin.Compose(builtins, loaded, opts.BuiltinActions...)
	if err != nil {
		_ = plugin.Close(loaded)
		s.closeBus()
		return nil, err
	}
	s.loaded = loaded
	s.composition = composition

	logger.Debug().
		Int("plugins", len(loaded)).
		Int("tools", len(composition.Tools())).
		Msg("session service ready")
	return s, nil
}

// Config returns the resolved configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Bus returns the event bus.
func (s *Service) Bus() *event.Bus { return s.bus }

// Plugins lists the loaded plugins in load order.
func (s *Service) Plugins() []plugin.Metadata { return s.composition.Plugins() }

// Actions lists the plugin actions.
func (s *Service) Actions() []plugin.ComposedAction { return s.composition.Actions() }

// Tools returns the composed tool set.
func (s *Service) Tools() tool.Set { return s.composition.Tools() }

// Composition returns the merged builtin and plugin contributions.
func (s *Service) Composition() *plugin.Composition { return s.composition }

// Catalog lists the configured providers and models.
func (s *Service) Catalog() types.RuntimeCatalog { return provider.Catalog(s.cfg) }

// Instructions returns the system instructions for sel.
func (s *Service) Instructions(sel types.RuntimeSelection) string {
	parts := []string{fmt.Sprintf("Provider: %s\nModel: %s", sel.Provider, sel.Model)}
	for _, f := range s.composition.InstructionFragments() {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, "\n\n")
}

// List returns session summaries, most recently updated first.
func (s *Service) List(ctx context.Context) ([]types.SessionSummary, error) {
	return s.repo.List(ctx)
}

// Delete removes a session and its artifacts.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.ErrEmptyID
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(event.SessionDeleted, event.SessionDeletedData{SessionID: id})
	return nil
}

// OpenOptions configures Open.
type OpenOptions struct {
	// ID selects an existing session. Empty creates a new one.
	ID string

	// CreateIfMissing creates an unknown ID instead of failing. Defaults
	// to true.
	CreateIfMissing *bool

	// CWD recorded on new sessions. Defaults to the service CWD.
	CWD string

	Runtime  types.RuntimeSelection
	Metadata map[string]any
}

// Open loads or creates a session and binds it to a model.
func (s *Service) Open(ctx context.Context, opts OpenOptions) (*Handle, error) {
	state, created, err := s.resolveState(ctx, opts)
	if err != nil {
		return nil, err
	}

	sel := types.RuntimeSelection{Provider: state.Provider, Model: state.Model}
	model, err := s.models(ctx, s.cfg, sel)
	if err != nil {
		return nil, err
	}

	workDir := state.CWD
	if workDir == "" {
		workDir = s.cwd
	}
	logger := s.logger.With().Str("session", state.ID).Logger()
	agent, err := runner.NewAgent(runner.AgentOptions{
		Model:        model,
		Tools:        s.composition.Tools(),
		Instructions: s.Instructions(sel),
		MaxSteps:     s.maxSteps,
		ToolContext: tool.Context{
			SessionID: state.ID,
			WorkDir:   workDir,
			Artifacts: s.artifacts,
			Logger:    logger,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	sess, err := New(Options{
		State:         state,
		RunTurn:       agent.RunTurn,
		Now:           s.now,
		ApplyResponse: applyArtifacts,
		OnSnapshot:    s.persist,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}
	return &Handle{Session: sess, service: s, agent: agent, runtime: sel, created: created}, nil
}

func (s *Service) resolveState(ctx context.Context, opts OpenOptions) (types.SessionState, bool, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		state, err := s.create(ctx, s.newID(), opts)
		return state, true, err
	}

	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return types.SessionState{}, false, err
	}
	if !exists {
		if opts.CreateIfMissing != nil && !*opts.CreateIfMissing {
			return types.SessionState{}, false, &storage.SessionError{Kind: storage.ErrNotFound, ID: id}
		}
		state, err := s.create(ctx, id, opts)
		return state, true, err
	}

	state, err := s.repo.Load(ctx, id)
	if err != nil {
		return types.SessionState{}, false, err
	}

	if p := opts.Runtime.Provider; p != "" && p != state.Provider {
		return types.SessionState{}, false, fmt.Errorf(
			"Cannot change provider for existing session '%s' (%s -> %s). Create a new session instead.",
			id, state.Provider, p)
	}

	changed := false
	if m := strings.TrimSpace(opts.Runtime.Model); m != "" && m != state.Model {
		state.Model = m
		changed = true
	}
	if len(opts.Metadata) > 0 {
		if state.Metadata == nil {
			state.Metadata = map[string]any{}
		}
		maps.Copy(state.Metadata, opts.Metadata)
		changed = true
	}
	if changed {
		state.UpdatedAt = max(state.UpdatedAt, s.now())
		if err := s.repo.Save(ctx, state); err != nil {
			return types.SessionState{}, false, err
		}
		s.publishSession(event.SessionUpdated, state)
	}
	return state, false, nil
}

func (s *Service) create(ctx context.Context, id string, opts OpenOptions) (types.SessionState, error) {
	sel, err := provider.ResolveRuntime(s.cfg, opts.Runtime)
	if err != nil {
		return types.SessionState{}, err
	}
	cwd := opts.CWD
	if cwd == "" {
		cwd = s.cwd
	}
	now := s.now()
	state := types.SessionState{
		Version:   types.SessionStateVersion,
		ID:        id,
		CWD:       cwd,
		CreatedAt: now,
		UpdatedAt: now,
		Provider:  sel.Provider,
		Model:     sel.Model,
		Messages:  []types.Message{},
	}
	if len(opts.Metadata) > 0 {
		state.Metadata = maps.Clone(opts.Metadata)
	}
	if err := s.repo.Create(ctx, state); err != nil {
		return types.SessionState{}, err
	}
	s.logger.Info().Str("session", id).Str("provider", string(sel.Provider)).Str("model", sel.Model).Msg("session created")
	s.publishSession(event.SessionCreated, state)
	return state, nil
}

func (s *Service) persist(ctx context.Context, state types.SessionState) error {
	if err := s.repo.Save(ctx, state); err != nil {
		return err
	}
	s.publishSession(event.SessionUpdated, state)
	return nil
}

// RunInput configures a one-off turn.
type RunInput struct {
	Prompt   string
	Messages []types.Message
	Runtime  types.RuntimeSelection
}

// RunTurn runs a single turn outside any session. Nothing is persisted.
func (s *Service) RunTurn(ctx context.Context, in RunInput) (*runner.Turn, error) {
	sel, err := provider.ResolveRuntime(s.cfg, in.Runtime)
	if err != nil {
		return nil, err
	}
	model, err := s.models(ctx, s.cfg, sel)
	if err != nil {
		return nil, err
	}
	agent, err := runner.NewAgent(runner.AgentOptions{
		Model:        model,
		Tools:        s.composition.Tools(),
		Instructions: s.Instructions(sel),
		MaxSteps:     s.maxSteps,
		ToolContext:  tool.Context{WorkDir: s.cwd, Logger: s.logger},
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}
	return agent.RunTurn(ctx, runner.TurnRequest{Prompt: in.Prompt}, in.Messages)
}

// Close tears down the plugins and, when owned, the bus.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(plugin.Close(s.loaded), s.closeBus())
	})
	return s.closeErr
}

func (s *Service) closeBus() error {
	if !s.ownsBus {
		return nil
	}
	return s.bus.Close()
}

func (s *Service) publishSession(t event.EventType, state types.SessionState) {
	s.publish(t, event.SessionData{Info: state.Summary(), MessageCount: len(state.Messages)})
}

func (s *Service) publish(t event.EventType, data any) {
	if err := s.bus.Publish(t, data); err != nil && !errors.Is(err, event.ErrClosed) {
		s.logger.Warn().Err(err).Str("event", string(t)).Msg("publish failed")
	}
}

// Handle is an opened session bound to its model.
type Handle struct {
	*Session

	service *Service
	agent   *runner.Agent
	runtime types.RuntimeSelection
	created bool
}

// Runtime returns the provider and model the handle runs on.
func (h *Handle) Runtime() types.RuntimeSelection { return h.runtime }

// Created reports whether Open created the session.
func (h *Handle) Created() bool { return h.created }

// Instructions returns the system instructions sent with every turn.
func (h *Handle) Instructions() string { return h.agent.Instructions() }

// Send runs a prompt turn.
func (h *Handle) Send(ctx context.Context, prompt string) (*runner.Turn, error) {
	return h.Turn(ctx, runner.TurnRequest{Prompt: prompt})
}

// Turn runs req and publishes turn.finished once it is committed.
func (h *Handle) Turn(ctx context.Context, req runner.TurnRequest) (*runner.Turn, error) {
	turn, err := h.Session.Turn(ctx, req)
	if err != nil {
		return nil, err
	}
	return turn.Then(func(resp runner.TurnResponse) (runner.TurnResponse, error) {
		h.service.publish(event.TurnFinished, event.TurnFinishedData{
			SessionID:    h.ID(),
			FinishReason: string(resp.FinishReason),
			Usage:        resp.TotalUsage,
		})
		return resp, nil
	}), nil
}

// applyArtifacts records artifact references found in tool-result meta.
func applyArtifacts(_ context.Context, in CommitInput) (types.SessionState, error) {
	refs := collectArtifacts(in.Response.ResponseMessages)
	if len(refs) == 0 {
		return in.Next, nil
	}
	next := in.Next
	next.Artifacts = mergeArtifacts(next.Artifacts, refs)
	return next, nil
}

func collectArtifacts(messages []types.Message) []types.ArtifactReference {
	var refs []types.ArtifactReference
	for _, msg := range messages {
		for _, result := range msg.ToolResults {
			raw, ok := result.Output.Meta["artifact"]
			if !ok || raw == nil {
				continue
			}
			ref, ok := artifactFromMeta(raw)
			if ok {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

func artifactFromMeta(raw any) (types.ArtifactReference, bool) {
	if ref, ok := raw.(types.ArtifactReference); ok {
		return ref, ref.Valid()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return types.ArtifactReference{}, false
	}
	var ref types.ArtifactReference
	if err := json.Unmarshal(data, &ref); err != nil {
		return types.ArtifactReference{}, false
	}
	return ref, ref.Valid()
}

// mergeArtifacts appends refs whose ids are not yet present.
func mergeArtifacts(existing, refs []types.ArtifactReference) []types.ArtifactReference {
	seen := make(map[string]bool, len(existing)+len(refs))
	out := make([]types.ArtifactReference, 0, len(existing)+len(refs))
	for _, ref := range existing {
		seen[ref.ID] = true
		out = append(out, ref)
	}
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		out = append(out, ref)
	}
	return out
}
