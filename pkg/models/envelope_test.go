package models

import (
	"errors"
	"testing"
)

func TestNewEnvelopeAssignsIDOnce(t *testing.T) {
	env := NewEnvelope(ChannelCLI, "user-1", "hello")
	if env.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if env.State() != StateCreated {
		t.Fatalf("expected created, got %s", env.State())
	}
	other := NewEnvelope(ChannelCLI, "user-1", "hello")
	if env.ID == other.ID {
		t.Fatal("expected distinct ids")
	}
	if env.CreatedAt.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp, got %s", env.CreatedAt.Location())
	}
}

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		name string
		path []EnvelopeState
		ok   bool
	}{
		{"happy path direct", []EnvelopeState{StateAuthorized, StateProcessing, StateCompleted}, true},
		{"happy path with tools", []EnvelopeState{StateAuthorized, StateProcessing, StateToolCalling, StateProcessing, StateCompleted}, true},
		{"denied at admission", []EnvelopeState{StateDenied}, true},
		{"failure mid tool", []EnvelopeState{StateAuthorized, StateProcessing, StateToolCalling, StateFailed}, true},
		{"skip authorization", []EnvelopeState{StateProcessing}, false},
		{"created to completed", []EnvelopeState{StateCompleted}, false},
		{"out of denied", []EnvelopeState{StateDenied, StateAuthorized}, false},
		{"out of completed", []EnvelopeState{StateAuthorized, StateProcessing, StateCompleted, StateProcessing}, false},
		{"out of failed", []EnvelopeState{StateAuthorized, StateProcessing, StateFailed, StateProcessing}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(ChannelAPI, "u", "hi")
			var err error
			for _, s := range tt.path {
				if err = env.Transition(s); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected transition error")
				}
				var ite *InvalidTransitionError
				if !errors.As(err, &ite) {
					t.Fatalf("expected InvalidTransitionError, got %T", err)
				}
			}
		})
	}
}

func TestCompleteSetsResponseOnly(t *testing.T) {
	env := NewEnvelope(ChannelWeb, "u", "hi")
	mustTransition(t, env, StateAuthorized, StateProcessing)
	if err := env.Complete("done"); err != nil {
		t.Fatal(err)
	}
	if env.Response != "done" || env.Error != "" {
		t.Fatalf("completed envelope must carry response and no error: %+v", env)
	}
	if !env.Terminal() {
		t.Fatal("completed is terminal")
	}
}

func TestFailSetsErrorOnly(t *testing.T) {
	env := NewEnvelope(ChannelWeb, "u", "hi")
	mustTransition(t, env, StateAuthorized, StateProcessing)
	if err := env.Fail(errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	if env.Error != "boom" || env.Response != "" {
		t.Fatalf("failed envelope must carry error and no response: %+v", env)
	}
}

func TestDenyFromCreatedOnly(t *testing.T) {
	env := NewEnvelope(ChannelSlack, "u", "hi")
	if err := env.Deny("rate limited"); err != nil {
		t.Fatal(err)
	}
	if env.Error != "rate limited" {
		t.Fatalf("denied envelope must carry the reason, got %q", env.Error)
	}

	env2 := NewEnvelope(ChannelSlack, "u", "hi")
	mustTransition(t, env2, StateAuthorized)
	if err := env2.Deny("late"); err == nil {
		t.Fatal("deny after authorization must fail")
	}
}

func TestRecordToolCallPreservesOrder(t *testing.T) {
	env := NewEnvelope(ChannelCLI, "u", "hi")
	env.RecordToolCall(ToolCallRecord{Name: "first"})
	env.RecordToolCall(ToolCallRecord{Name: "second"})
	if len(env.ToolCalls) != 2 || env.ToolCalls[0].Name != "first" || env.ToolCalls[1].Name != "second" {
		t.Fatalf("tool call order lost: %+v", env.ToolCalls)
	}
}

func TestValidChannel(t *testing.T) {
	for _, ch := range []ChannelType{ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelCLI, ChannelAPI, ChannelWeb} {
		if !ValidChannel(ch) {
			t.Errorf("%s should be valid", ch)
		}
	}
	if ValidChannel("carrier-pigeon") {
		t.Error("unknown channel accepted")
	}
}

func mustTransition(t *testing.T, env *Envelope, states ...EnvelopeState) {
	t.Helper()
	for _, s := range states {
		if err := env.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
}
