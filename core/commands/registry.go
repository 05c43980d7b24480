// Package commands maps tool identifiers coming from the understanding
// service to executable actions. The registry is populated once at session
// startup and only read afterwards, so dispatch is safe to call from
// concurrent sessions sharing one registry.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ToolCall is a structured command request received from the understanding
// service. It is consumed once by Dispatch.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// Result closes a ToolCall. CallID always echoes the originating call so
// the service can correlate responses while multiple calls are in flight.
type Result struct {
	CallID  string
	Name    string
	Status  Status
	Kind    ErrorKind
	Message string
	Payload map[string]any
}

// Declaration is the wire-ready description of a registered command.
type Declaration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Spawner schedules an asynchronous handler off the live loop and returns a
// task identifier for the acknowledgment. It returns ErrBusy when a previous
// background command has not completed yet.
type Spawner func(name string, run func(context.Context) (map[string]any, error)) (string, error)

type handlerFunc func(context.Context, json.RawMessage) (map[string]any, error)

// Command pairs a declaration with exactly one of a synchronous or an
// asynchronous handler. The dispatcher branches on which one is set.
type Command struct {
	declaration  Declaration
	schema       *gojsonschema.Schema
	syncHandler  handlerFunc
	asyncHandler handlerFunc
}

// New builds a synchronous command. The handler must complete before
// dispatch returns; its payload becomes the Result payload.
func New[T any](name, description string, handler func(context.Context, T) (map[string]any, error)) (Command, error) {
	declaration, schema, err := buildDeclaration[T](name, description)
	if err != nil {
		return Command{}, err
	}
	return Command{declaration: declaration, schema: schema, syncHandler: typedInvoker(handler)}, nil
}

// NewBackground builds an asynchronous command. Dispatch acknowledges it
// immediately and schedules the handler on the session's spawner; the real
// result is delivered later through a separate completion event.
func NewBackground[T any](name, description string, handler func(context.Context, T) (map[string]any, error)) (Command, error) {
	declaration, schema, err := buildDeclaration[T](name, description)
	if err != nil {
		return Command{}, err
	}
	return Command{declaration: declaration, schema: schema, asyncHandler: typedInvoker(handler)}, nil
}

func buildDeclaration[T any](name, description string) (Declaration, *gojsonschema.Schema, error) {
	if name == "" {
		return Declaration{}, nil, fmt.Errorf("command name must not be empty")
	}

	raw, err := reflectInputSchema[T]()
	if err != nil {
		return Declaration{}, nil, fmt.Errorf("failed to declare command %q: %w", name, err)
	}
	schema, err := compileInputSchema(raw)
	if err != nil {
		return Declaration{}, nil, fmt.Errorf("failed to declare command %q: %w", name, err)
	}

	return Declaration{Name: name, Description: description, InputSchema: raw}, schema, nil
}

func typedInvoker[T any](handler func(context.Context, T) (map[string]any, error)) handlerFunc {
	return func(ctx context.Context, rawArgs json.RawMessage) (map[string]any, error) {
		var args T
		if len(rawArgs) > 0 {
			if err := json.Unmarshal(rawArgs, &args); err != nil {
				return nil, NewArgumentError("", fmt.Sprintf("failed to decode arguments: %v", err))
			}
		}
		return handler(ctx, args)
	}
}

// Registry is the name to command table. Registration happens at startup;
// dispatch only reads.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{commands: map[string]Command{}}
}

func (r *Registry) Register(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := cmd.declaration.Name
	if _, taken := r.commands[name]; taken {
		return fmt.Errorf("%q: %w", name, ErrDuplicateCommand)
	}

	r.commands[name] = cmd
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.commands[name]
	return ok
}

// Declarations lists registered commands in registration order, ready to be
// announced to the understanding service.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	declarations := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		declarations = append(declarations, r.commands[name].declaration)
	}
	return declarations
}

// Dispatch resolves a tool call into a Result. It never panics and never
// returns an error: every failure mode becomes a structured error Result so
// the session keeps streaming.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall, spawn Spawner) Result {
	ctx, span := tracer.Start(ctx, "dispatch command")
	defer span.End()
	span.SetAttributes(attribute.String("command.name", call.Name))

	r.mu.RLock()
	cmd, ok := r.commands[call.Name]
	r.mu.RUnlock()
	if !ok {
		return r.errorResult(span, call, ErrorKindUnknownCommand,
			fmt.Sprintf("unknown command: %q is not registered", call.Name))
	}

	arguments := call.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}
	rawArgs, err := json.Marshal(arguments)
	if err != nil {
		return r.errorResult(span, call, ErrorKindInvalidArguments,
			fmt.Sprintf("failed to encode arguments: %v", err))
	}

	validation, err := cmd.schema.Validate(gojsonschema.NewBytesLoader(rawArgs))
	if err != nil {
		return r.errorResult(span, call, ErrorKindInvalidArguments,
			fmt.Sprintf("failed to validate arguments: %v", err))
	}
	if !validation.Valid() {
		results := validation.Errors()
		return r.errorResult(span, call, ErrorKindInvalidArguments,
			fmt.Sprintf("%s (field %q)", results[0].Description(), offendingField(results)))
	}

	if cmd.asyncHandler != nil {
		if spawn == nil {
			return r.errorResult(span, call, ErrorKindHandlerFailure,
				"no background runner is configured for this session")
		}

		run := func(taskCtx context.Context) (map[string]any, error) {
			return invokeSafely(taskCtx, call.Name, cmd.asyncHandler, rawArgs)
		}
		taskID, err := spawn(call.Name, run)
		if err != nil {
			if errors.Is(err, ErrBusy) {
				return r.errorResult(span, call, ErrorKindBusy, err.Error())
			}
			return r.errorResult(span, call, ErrorKindHandlerFailure,
				fmt.Sprintf("failed to schedule command %q: %v", call.Name, err))
		}

		return Result{
			CallID:  call.CallID,
			Name:    call.Name,
			Status:  StatusSuccess,
			Payload: map[string]any{"started": true, "task_id": taskID},
		}
	}

	payload, err := invokeSafely(ctx, call.Name, cmd.syncHandler, rawArgs)
	if err != nil {
		return r.errorResult(span, call, classifyHandlerError(err), err.Error())
	}

	return Result{CallID: call.CallID, Name: call.Name, Status: StatusSuccess, Payload: payload}
}

func classifyHandlerError(err error) ErrorKind {
	var argErr *ArgumentError
	switch {
	case errors.As(err, &argErr):
		return ErrorKindInvalidArguments
	case errors.Is(err, ErrOutOfRange):
		return ErrorKindOutOfRange
	}
	return ErrorKindHandlerFailure
}

func invokeSafely(ctx context.Context, name string, handler handlerFunc, rawArgs json.RawMessage) (payload map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("command %q panicked: %v", name, recovered)
		}
	}()

	return handler(ctx, rawArgs)
}

func (r *Registry) errorResult(span trace.Span, call ToolCall, kind ErrorKind, message string) Result {
	err := fmt.Errorf("%s: %s", kind, message)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("command dispatch failed", "kind", string(kind), "command", call.Name, "error", message)

	return Result{
		CallID:  call.CallID,
		Name:    call.Name,
		Status:  StatusError,
		Kind:    kind,
		Message: message,
	}
}
