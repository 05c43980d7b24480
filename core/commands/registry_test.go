package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type echoArgs struct {
	Direction string `json:"direction" jsonschema:"enum=next,enum=prev,enum=jump"`
	Index     *int   `json:"index,omitempty"`
}

func newEchoCommand(t *testing.T) Command {
	t.Helper()

	cmd, err := New("navigate_slide", "Move through the deck.",
		func(_ context.Context, args echoArgs) (map[string]any, error) {
			if args.Direction == "jump" && args.Index == nil {
				return nil, NewArgumentError("index", "direction \"jump\" requires an index")
			}
			return map[string]any{"direction": args.Direction}, nil
		})
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}
	return cmd
}

func noopSpawner(string, func(context.Context) (map[string]any, error)) (string, error) {
	return "task-1", nil
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(newEchoCommand(t)); err != nil {
		t.Fatalf("expected first registration to succeed, got %v", err)
	}
	if err := registry.Register(newEchoCommand(t)); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestRegistryDeclarationsKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()

	first := newEchoCommand(t)
	second, err := NewBackground("generate_summary", "Summarize the deck.",
		func(context.Context, struct{}) (map[string]any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}

	for _, cmd := range []Command{first, second} {
		if err := registry.Register(cmd); err != nil {
			t.Fatalf("failed to register %q: %v", cmd.declaration.Name, err)
		}
	}

	declarations := registry.Declarations()
	if len(declarations) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(declarations))
	}
	if declarations[0].Name != "navigate_slide" || declarations[1].Name != "generate_summary" {
		t.Fatalf("unexpected declaration order: %q, %q", declarations[0].Name, declarations[1].Name)
	}
	if len(declarations[0].InputSchema) == 0 {
		t.Fatal("expected a reflected input schema")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	registry := NewRegistry()

	for range 2 {
		result := registry.Dispatch(context.Background(),
			ToolCall{CallID: "call-1", Name: "open_pod_bay_doors"}, noopSpawner)
		if result.Status != StatusError || result.Kind != ErrorKindUnknownCommand {
			t.Fatalf("expected an unknown_command error, got %+v", result)
		}
		if result.CallID != "call-1" {
			t.Fatalf("expected the call id to be echoed, got %q", result.CallID)
		}
	}
}

func TestDispatchRejectsSchemaViolations(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(newEchoCommand(t)); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result := registry.Dispatch(context.Background(), ToolCall{
		CallID:    "call-2",
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "sideways"},
	}, noopSpawner)

	if result.Status != StatusError || result.Kind != ErrorKindInvalidArguments {
		t.Fatalf("expected an invalid_arguments error, got %+v", result)
	}
	if !strings.Contains(result.Message, "direction") {
		t.Fatalf("expected the message to name the offending field, got %q", result.Message)
	}
}

func TestDispatchSurfacesArgumentErrors(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(newEchoCommand(t)); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result := registry.Dispatch(context.Background(), ToolCall{
		CallID:    "call-3",
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "jump"},
	}, noopSpawner)

	if result.Status != StatusError || result.Kind != ErrorKindInvalidArguments {
		t.Fatalf("expected an invalid_arguments error, got %+v", result)
	}
	if !strings.Contains(result.Message, "index") {
		t.Fatalf("expected the message to name the missing field, got %q", result.Message)
	}
}

func TestDispatchSyncCommand(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(newEchoCommand(t)); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result := registry.Dispatch(context.Background(), ToolCall{
		CallID:    "call-4",
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "next"},
	}, noopSpawner)

	if result.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.CallID != "call-4" {
		t.Fatalf("expected the call id to be echoed, got %q", result.CallID)
	}
	if result.Payload["direction"] != "next" {
		t.Fatalf("expected the handler payload, got %v", result.Payload)
	}
}

func TestDispatchClassifiesOutOfRange(t *testing.T) {
	registry := NewRegistry()
	cmd, err := New("navigate_slide", "Move through the deck.",
		func(context.Context, echoArgs) (map[string]any, error) {
			return nil, ErrOutOfRange
		})
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}
	if err := registry.Register(cmd); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result := registry.Dispatch(context.Background(), ToolCall{
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "next"},
	}, noopSpawner)

	if result.Kind != ErrorKindOutOfRange {
		t.Fatalf("expected an out_of_range error, got %+v", result)
	}
}

func TestDispatchRecoversHandlerPanics(t *testing.T) {
	registry := NewRegistry()
	cmd, err := New("navigate_slide", "Move through the deck.",
		func(context.Context, echoArgs) (map[string]any, error) {
			panic("nil deck")
		})
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}
	if err := registry.Register(cmd); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result := registry.Dispatch(context.Background(), ToolCall{
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "next"},
	}, noopSpawner)

	if result.Status != StatusError || result.Kind != ErrorKindHandlerFailure {
		t.Fatalf("expected a handler_failure error, got %+v", result)
	}
	if !strings.Contains(result.Message, "panicked") {
		t.Fatalf("expected a panic message, got %q", result.Message)
	}
}

func TestDispatchAcknowledgesBackgroundCommands(t *testing.T) {
	registry := NewRegistry()

	invoked := make(chan struct{}, 1)
	cmd, err := NewBackground("generate_summary", "Summarize the deck.",
		func(context.Context, struct{}) (map[string]any, error) {
			invoked <- struct{}{}
			return map[string]any{"summary": "done"}, nil
		})
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}
	if err := registry.Register(cmd); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	var scheduled func(context.Context) (map[string]any, error)
	spawn := func(_ string, run func(context.Context) (map[string]any, error)) (string, error) {
		scheduled = run
		return "task-42", nil
	}

	result := registry.Dispatch(context.Background(),
		ToolCall{CallID: "call-5", Name: "generate_summary"}, spawn)

	if result.Status != StatusSuccess {
		t.Fatalf("expected an acknowledgment, got %+v", result)
	}
	if result.Payload["started"] != true || result.Payload["task_id"] != "task-42" {
		t.Fatalf("unexpected acknowledgment payload: %v", result.Payload)
	}
	if scheduled == nil {
		t.Fatal("expected the handler to be handed to the spawner")
	}

	select {
	case <-invoked:
		t.Fatal("expected the handler to run only when the spawner schedules it")
	default:
	}

	payload, err := scheduled(context.Background())
	if err != nil {
		t.Fatalf("expected the scheduled handler to succeed, got %v", err)
	}
	if payload["summary"] != "done" {
		t.Fatalf("unexpected handler payload: %v", payload)
	}
	<-invoked
}

func TestDispatchReportsBusySpawner(t *testing.T) {
	registry := NewRegistry()
	cmd, err := NewBackground("generate_summary", "Summarize the deck.",
		func(context.Context, struct{}) (map[string]any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("failed to build command: %v", err)
	}
	if err := registry.Register(cmd); err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	busy := func(string, func(context.Context) (map[string]any, error)) (string, error) {
		return "", ErrBusy
	}

	result := registry.Dispatch(context.Background(),
		ToolCall{Name: "generate_summary"}, busy)
	if result.Status != StatusError || result.Kind != ErrorKindBusy {
		t.Fatalf("expected a busy error, got %+v", result)
	}

	result = registry.Dispatch(context.Background(),
		ToolCall{Name: "generate_summary"}, nil)
	if result.Kind != ErrorKindHandlerFailure {
		t.Fatalf("expected a handler_failure without a spawner, got %+v", result)
	}
}
