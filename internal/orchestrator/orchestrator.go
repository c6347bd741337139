package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/seralia/guildmind/internal/credentials"
	"github.com/seralia/guildmind/internal/history"
	"github.com/seralia/guildmind/internal/pkg/dbctx"
	"github.com/seralia/guildmind/internal/pkg/keymutex"
	"github.com/seralia/guildmind/internal/platform/apierr"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/provider"
	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/settings"
	"github.com/seralia/guildmind/internal/types"
)

const (
	// MaxAttempts bounds upstream attempts per inbound turn.
	MaxAttempts = 5
	// MaxWallClock bounds total time spent on one inbound turn. Whichever
	// of the two budgets runs out first ends the loop.
	MaxWallClock = 60 * time.Second
)

// Responder delivers text back to the chat platform and returns the
// platform's id for the outbound message.
type Responder interface {
	Send(ctx context.Context, conversationID, text string) (string, error)
}

// InboundTurn is one user message as handed over by the chat-platform
// collaborator. Text is opaque here; any author prefixing happens upstream.
type InboundTurn struct {
	ConversationID string
	TurnID         string
	Text           string
	Timestamp      time.Time
}

// Result describes a completed generation.
type Result struct {
	Text      string
	MessageID string
	Provider  string
	Model     string
	Attempts  int
}

// Orchestrator drives an inbound turn from history load through retries to
// the delivered response. One generation runs per conversation at a time.
type Orchestrator struct {
	store     *history.Store
	syncer    *history.Syncer
	pool      *credentials.Pool
	registry  *provider.Registry
	settings  settings.Store
	calls     repos.ProviderCallLogRepo
	responder Responder
	clock     Clock
	locks     *keymutex.KeyMutex
	log       *logger.Logger

	// jitter adds the sub-second fuzz on top of exponential backoff;
	// replaced in tests.
	jitter func() time.Duration
}

func New(
	store *history.Store,
	syncer *history.Syncer,
	pool *credentials.Pool,
	registry *provider.Registry,
	settingsStore settings.Store,
	calls repos.ProviderCallLogRepo,
	responder Responder,
	clock Clock,
	log *logger.Logger,
) *Orchestrator {
	if clock == nil {
		clock = NewClock()
	}
	return &Orchestrator{
		store:     store,
		syncer:    syncer,
		pool:      pool,
		registry:  registry,
		settings:  settingsStore,
		calls:     calls,
		responder: responder,
		clock:     clock,
		locks:     keymutex.New(),
		log:       log.With("service", "ResponseOrchestrator"),
		jitter:    func() time.Duration { return time.Duration(rand.Int64N(int64(time.Second))) },
	}
}

// HandleInboundTurn stores the turn, generates a reply, delivers it, and
// records the assistant turn. A storage failure on the inbound turn aborts
// before any upstream call is made.
func (o *Orchestrator) HandleInboundTurn(ctx context.Context, in InboundTurn) (*Result, error) {
	o.locks.Lock(in.ConversationID)
	defer o.locks.Unlock(in.ConversationID)

	requestID := uuid.NewString()
	log := o.log.With("conversation_id", in.ConversationID, "request_id", requestID)

	err := o.store.AppendOrUpdate(ctx, in.ConversationID, history.Turn{
		TurnID:    in.TurnID,
		Role:      types.RoleUser,
		Text:      in.Text,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		log.Error("Aborting turn, could not persist inbound message", "error", err)
		return nil, err
	}

	turns, err := o.store.List(ctx, in.ConversationID)
	if err != nil {
		log.Error("Aborting turn, could not load history", "error", err)
		return nil, err
	}
	messages := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, provider.Message{Role: t.Role, Text: t.Text})
	}

	cfg, err := o.settings.Resolve(ctx, in.ConversationID)
	if err != nil {
		log.Error("Aborting turn, could not resolve settings", "error", err)
		return nil, apierr.New(apierr.KindStorage, fmt.Errorf("resolve settings: %w", err))
	}
	prov := o.registry.Resolve(cfg.Provider)
	log = log.With("provider", prov.Descriptor().ID, "model", cfg.ModelName)

	res, genErr := o.generate(ctx, log, requestID, in.ConversationID, prov, messages, cfg)
	if genErr != nil {
		o.notifyFailure(ctx, log, in.ConversationID, genErr)
		return nil, genErr
	}

	messageID, err := o.responder.Send(ctx, in.ConversationID, res.Text)
	if err != nil {
		log.Error("Generated a reply but could not deliver it", "error", err)
		return nil, apierr.New(apierr.KindTransient, fmt.Errorf("deliver response: %w", err))
	}
	res.MessageID = messageID

	err = o.store.AppendOrUpdate(ctx, in.ConversationID, history.Turn{
		TurnID:    messageID,
		Role:      types.RoleAssistant,
		Text:      res.Text,
		Timestamp: o.clock.Now(),
	})
	if err != nil {
		// The user already has the reply; losing the stored copy only
		// degrades future context.
		log.Error("Delivered reply was not persisted", "error", err)
	}
	return res, nil
}

// generate runs the retry loop: up to MaxAttempts upstream calls inside a
// MaxWallClock window, exponential backoff with sub-second jitter between
// attempts, and credential rotation on quota exhaustion.
func (o *Orchestrator) generate(
	ctx context.Context,
	log *logger.Logger,
	requestID, conversationID string,
	prov provider.Provider,
	messages []provider.Message,
	cfg settings.Settings,
) (*Result, error) {
	providerID := prov.Descriptor().ID
	cred, err := o.pool.Get(ctx, conversationID, providerID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apierr.New(apierr.KindNoCredential, fmt.Errorf("no credentials registered for provider %s", providerID))
	}

	genCfg := provider.GenerationConfig{
		ModelName:         cfg.ModelName,
		Temperature:       cfg.Temperature,
		TopP:              cfg.TopP,
		TopK:              cfg.TopK,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		SystemInstruction: cfg.SystemInstruction,
		SafetySettings:    cfg.SafetySettings,
	}

	start := o.clock.Now()
	attempt := 0
	for {
		if cred == nil {
			// The pool drained mid-flight; keys may come back, so this
			// burns an attempt instead of failing outright.
			cred, err = o.pool.Get(ctx, conversationID, providerID)
			if err != nil {
				return nil, err
			}
		}

		var gen *provider.Generation
		var genErr error
		if cred == nil {
			genErr = apierr.New(apierr.KindNoCredential, fmt.Errorf("credential pool exhausted"))
		} else {
			gen, genErr = prov.Generate(ctx, cred.APIKey, messages, genCfg)
		}
		attempt++
		o.recordCall(ctx, requestID, conversationID, prov, cfg.ModelName, attempt, gen, genErr)

		if genErr == nil {
			log.Info("Generation succeeded", "attempt", attempt)
			return &Result{
				Text:     gen.Text,
				Provider: prov.Descriptor().ID,
				Model:    cfg.ModelName,
				Attempts: attempt,
			}, nil
		}

		kind := apierr.KindOf(genErr)
		switch {
		case kind == apierr.KindQuota && cred != nil:
			// Rotating to a fresh key retries immediately without
			// consuming backoff; the pool size bounds this loop.
			log.Warn("Credential exhausted its quota, rotating", "attempt", attempt)
			cred, err = o.pool.ReportFailure(ctx, conversationID, cred.APIKey, providerID)
			if err != nil {
				return nil, err
			}
			if cred != nil {
				attempt--
				continue
			}
		case !apierr.Retryable(genErr):
			log.Warn("Generation failed terminally", "attempt", attempt, "kind", kind, "error", genErr)
			return nil, genErr
		default:
			if cfg.EvictPolicy == settings.EvictOnAnyUpstreamFailure && cred != nil {
				cred, err = o.pool.ReportFailure(ctx, conversationID, cred.APIKey, providerID)
				if err != nil {
					return nil, err
				}
			}
		}

		if attempt >= MaxAttempts {
			log.Error("Retry budget exhausted", "attempts", attempt, "error", genErr)
			return nil, apierr.New(apierr.KindRetryBudget, fmt.Errorf("gave up after %d attempts: %w", attempt, genErr))
		}

		delay := time.Duration(1<<uint(attempt))*time.Second + o.jitter()
		log.Warn("Generation failed, backing off",
			"attempt", attempt,
			"kind", kind,
			"delay", delay,
			"error", genErr,
		)
		if err := o.clock.Sleep(ctx, delay); err != nil {
			return nil, apierr.New(apierr.KindTransient, err)
		}
		if o.clock.Now().Sub(start) >= MaxWallClock {
			log.Error("Wall clock budget exhausted", "attempts", attempt, "error", genErr)
			return nil, apierr.New(apierr.KindRetryBudget, fmt.Errorf("gave up after %s: %w", MaxWallClock, genErr))
		}
	}
}

// notifyFailure delivers a user-facing explanation. It is best effort and
// the failed exchange is never written to history.
func (o *Orchestrator) notifyFailure(ctx context.Context, log *logger.Logger, conversationID string, genErr error) {
	msg := apierr.UserMessage(genErr)
	if _, err := o.responder.Send(ctx, conversationID, msg); err != nil {
		log.Warn("Could not deliver failure notice", "error", err)
	}
}

// recordCall writes the attempt audit row. Failures here never affect the
// generation path.
func (o *Orchestrator) recordCall(
	ctx context.Context,
	requestID, conversationID string,
	prov provider.Provider,
	model string,
	attempt int,
	gen *provider.Generation,
	genErr error,
) {
	row := &types.ProviderCallLog{
		ConversationID: conversationID,
		RequestID:      requestID,
		Provider:       prov.Descriptor().ID,
		Model:          model,
		Attempt:        attempt,
		Success:        genErr == nil,
	}
	if genErr != nil {
		row.ErrorKind = string(apierr.KindOf(genErr))
		row.Error = genErr.Error()
	}
	if gen != nil {
		if raw, err := json.Marshal(gen.Usage); err == nil {
			row.Usage = datatypes.JSON(raw)
		}
	}
	if _, err := o.calls.Create(dbctx.Background(ctx), []*types.ProviderCallLog{row}); err != nil {
		o.log.Warn("Could not record provider call", "conversation_id", conversationID, "error", err)
	}
}

// HandleEdit rewrites the stored turn's text. The original timestamp is
// kept so edits never reorder the conversation.
func (o *Orchestrator) HandleEdit(ctx context.Context, conversationID, turnID, text string, at time.Time) error {
	return o.store.AppendOrUpdate(ctx, conversationID, history.Turn{
		TurnID:    turnID,
		Role:      types.RoleUser,
		Text:      text,
		Timestamp: at,
	})
}

// HandleDelete drops the turn; deleting an unknown turn is a no-op.
func (o *Orchestrator) HandleDelete(ctx context.Context, conversationID, turnID string) error {
	return o.store.Remove(ctx, conversationID, turnID)
}

// Clear wipes the conversation's history.
func (o *Orchestrator) Clear(ctx context.Context, conversationID string) error {
	return o.store.Clear(ctx, conversationID)
}

// Resync reconciles stored history against the platform transcript. It
// takes the conversation lock so a resync never interleaves with a
// generation.
func (o *Orchestrator) Resync(ctx context.Context, conversationID, channelID string, fetcher history.Fetcher) error {
	o.locks.Lock(conversationID)
	defer o.locks.Unlock(conversationID)
	return o.syncer.Sync(ctx, conversationID, channelID, fetcher)
}
