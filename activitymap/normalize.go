// Package activitymap flattens account activity events into a record shape
// that log pipelines and audit stores can ingest without knowing the
// accounts types.
package activitymap

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	accounts "github.com/goliatone/go-accounts"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

const (
	defaultChannel    = "accounts"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Record is the flattened form of an activity event
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
}

// WithChannel overrides the channel, "accounts" by default
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when neither the actor nor the
// account is known.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize converts event into a Record. The actor falls back to the
// account the event is about, then to the configured fallback.
func Normalize(event accounts.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.AccountID), o.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.AccountID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

// LogSink returns an ActivitySink that writes every event as one
// structured log line at level.
func LogSink(logger *slog.Logger, level slog.Level, opts ...Option) accounts.ActivitySink {
	return accounts.ActivitySinkFunc(func(ctx context.Context, event accounts.ActivityEvent) error {
		rec := Normalize(event, opts...)
		attrs := []slog.Attr{
			slog.String("verb", rec.Verb),
			slog.String("actor_id", rec.ActorID),
			slog.String("object_type", rec.ObjectType),
			slog.String("object_id", rec.ObjectID),
			slog.String("channel", rec.Channel),
			slog.Time("occurred_at", rec.OccurredAt),
		}
		if len(rec.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", rec.Metadata))
		}
		logger.LogAttrs(ctx, level, "account activity", attrs...)
		return nil
	})
}

func metadata(event accounts.ActivityEvent) map[string]any {
	out := maps.Clone(event.Metadata)
	set := func(key, value string, overwrite bool) {
		if value == "" {
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; exists && !overwrite {
			return
		}
		out[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyFromState, string(event.FromState), true)
	set(MetadataKeyToState, string(event.ToState), true)

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
