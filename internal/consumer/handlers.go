// Package consumer binds the fraud topics to their service handlers.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/segmentio/kafka-go"
)

const (
	orchestratorGroup = "fraud-orchestrator"
	alertGroup        = "alert-service"
)

// SignalHandler consumes detector signals.
type SignalHandler interface {
	HandleBlacklist(ctx context.Context, evt events.BlacklistCheck) error
	HandleRule(ctx context.Context, evt events.RuleEvaluation) error
	HandleMl(ctx context.Context, evt events.MlScore) error
}

// DecisionHandler consumes final decisions. payload is the raw message value.
type DecisionHandler interface {
	HandleDecision(ctx context.Context, evt events.FraudFinalDecision, payload []byte) error
}

// Route is one topic subscription.
type Route struct {
	Topic   string
	GroupID string
	Handler messaging.Handler
}

// Routes lists every subscription. Signal topics share the orchestrator group,
// final decisions are read by the alert group.
func Routes(groupPrefix string, signals SignalHandler, decisions DecisionHandler) []Route {
	orchestrator := groupPrefix + orchestratorGroup
	return []Route{
		{Topic: domain.TopicBlacklist, GroupID: orchestrator, Handler: Blacklist(signals)},
		{Topic: domain.TopicRules, GroupID: orchestrator, Handler: Rules(signals)},
		{Topic: domain.TopicML, GroupID: orchestrator, Handler: Ml(signals)},
		{Topic: domain.TopicFinal, GroupID: groupPrefix + alertGroup, Handler: FinalDecisions(decisions)},
	}
}

func Blacklist(h SignalHandler) messaging.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := decode[events.BlacklistCheck](msg)
		if err != nil {
			return err
		}
		return h.HandleBlacklist(ctx, evt)
	}
}

func Rules(h SignalHandler) messaging.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := decode[events.RuleEvaluation](msg)
		if err != nil {
			return err
		}
		return h.HandleRule(ctx, evt)
	}
}

func Ml(h SignalHandler) messaging.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := decode[events.MlScore](msg)
		if err != nil {
			return err
		}
		return h.HandleMl(ctx, evt)
	}
}

func FinalDecisions(h DecisionHandler) messaging.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		evt, err := decode[events.FraudFinalDecision](msg)
		if err != nil {
			return err
		}
		return h.HandleDecision(ctx, evt, msg.Value)
	}
}

type validatable interface {
	Validate() error
}

// decode rejects undecodable payloads and payloads without a transaction id
// as malformed so the consumer dead-letters them without retrying.
func decode[T validatable](msg kafka.Message) (T, error) {
	var evt T
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return evt, fmt.Errorf("%w: %s offset %d: %v", messaging.ErrMalformedPayload, msg.Topic, msg.Offset, err)
	}
	if err := evt.Validate(); err != nil {
		return evt, fmt.Errorf("%w: %s offset %d: %v", messaging.ErrMalformedPayload, msg.Topic, msg.Offset, err)
	}
	return evt, nil
}
